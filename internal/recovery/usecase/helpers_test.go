package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/audit"
	"github.com/jia-app/recoveryservice/internal/billing"
	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/notify"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo/memory"
)

// fakeProcessor scripts charge outcomes and counts calls so tests can
// assert that no-op paths never reach the processor.
type fakeProcessor struct {
	mu      sync.Mutex
	calls   int
	results []*billing.ChargeResult
	err     error
}

func (p *fakeProcessor) ChargePayment(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.results) == 0 {
		return &billing.ChargeResult{Success: true, TransactionID: "txn_default"}, nil
	}
	result := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return result, nil
}

func (p *fakeProcessor) Close() error { return nil }

// capturingPublisher records lifecycle events so tests can assert on
// what was announced.
type capturingPublisher struct {
	mu     sync.Mutex
	events []*events.RecoveryEvent
}

func (p *capturingPublisher) PublishRecoveryEvent(ctx context.Context, event *events.RecoveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) PublishNotificationRequest(ctx context.Context, req *events.NotificationRequest) error {
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func (p *capturingPublisher) lastOfType(eventType string) *events.RecoveryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i]
		}
	}
	return nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func declined(code string) *billing.ChargeResult {
	return &billing.ChargeResult{Success: false, ErrorCode: code, ErrorMessage: "card declined"}
}

func succeeded(txn string) *billing.ChargeResult {
	return &billing.ChargeResult{Success: true, TransactionID: txn}
}

// testEngine wires the full usecase layer over the in-memory store.
type testEngine struct {
	store     *memory.Store
	processor *fakeProcessor
	notifier  *notify.Recorder
	published *capturingPublisher
	tracker   *Tracker
	retrier   *RetryScheduler
	campaigns *CampaignEngine
	accounts  *AccountMachine
	analytics *Analytics
	sweeper   *Sweeper
	cfg       config.RecoveryConfig
}

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxRetryAttempts:  3,
		RetryBaseDelay:    time.Hour,
		RetryMaxDelay:     72 * time.Hour,
		RetryJitterMax:    15 * time.Minute,
		GraceThreshold:    24 * time.Hour,
		GracePeriod:       7 * 24 * time.Hour,
		CampaignThreshold: 1,
		SweepInterval:     time.Minute,
		SweepBatchSize:    100,
		SweepWorkers:      2,
	}
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	store := memory.NewStore()
	processor := &fakeProcessor{}
	notifier := notify.NewRecorder()
	publisher := &capturingPublisher{}
	auditor := audit.NewManager(audit.NewZapAuditLogger(zap.NewNop()))
	cfg := testRecoveryConfig()

	accounts := NewAccountMachine(store.AccountState(), store.Failure(), store.Campaign(),
		nil, publisher, auditor, nil, cfg)
	campaigns := NewCampaignEngine(store.Campaign(), store.Failure(), notifier, accounts, publisher, auditor)
	retrier := NewRetryScheduler(store.Failure(), processor, nil, campaigns, accounts,
		publisher, auditor, cfg)
	tracker := NewTracker(store.Failure(), nil, publisher, accounts, cfg)
	analytics := NewAnalytics(store.Analytics(), store.Failure(), store.Campaign())
	sweeper := NewSweeper(store.Failure(), store.Campaign(), retrier, campaigns, cfg)

	return &testEngine{
		store:     store,
		processor: processor,
		notifier:  notifier,
		published: publisher,
		tracker:   tracker,
		retrier:   retrier,
		campaigns: campaigns,
		accounts:  accounts,
		analytics: analytics,
		sweeper:   sweeper,
		cfg:       cfg,
	}
}

func customerCtx(customerID string) context.Context {
	return domain.WithActor(context.Background(), domain.Actor{ID: customerID, Role: domain.RoleCustomer})
}

func adminCtx() context.Context {
	return domain.WithActor(context.Background(), domain.Actor{ID: "admin_1", Role: domain.RoleAdmin})
}

// recordFailure seeds one failure through the tracker.
func (e *testEngine) recordFailure(t *testing.T, customerID, key string) *domain.PaymentFailure {
	t.Helper()
	failure, err := e.tracker.RecordFailure(context.Background(), FailureEvent{
		CustomerID:      customerID,
		Amount:          2500,
		Currency:        "usd",
		FailureReason:   "insufficient funds",
		FailureCode:     "card_declined",
		PaymentMethodID: "pm_1",
		IdempotencyKey:  key,
	})
	if err != nil {
		t.Fatalf("RecordFailure() error: %v", err)
	}
	return failure
}
