package usecase

import (
	"context"
	"testing"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

func TestRecordFailureValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event FailureEvent
	}{
		{name: "missing customer", event: FailureEvent{IdempotencyKey: "evt_1", Amount: 100, Currency: "usd"}},
		{name: "missing idempotency key", event: FailureEvent{CustomerID: "c1", Amount: 100, Currency: "usd"}},
		{name: "non-positive amount", event: FailureEvent{CustomerID: "c1", IdempotencyKey: "evt_1", Currency: "usd"}},
		{name: "missing currency", event: FailureEvent{CustomerID: "c1", IdempotencyKey: "evt_1", Amount: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.tracker.RecordFailure(ctx, tt.event)
			if !domain.HasCode(err, domain.ErrCodeValidation) {
				t.Errorf("RecordFailure() error = %v, want VALIDATION_ERROR", err)
			}
		})
	}
}

func TestRecordFailureCreates(t *testing.T) {
	e := newTestEngine(t)

	failure := e.recordFailure(t, "c1", "evt_1")

	if failure.Status != domain.FailureStatusPending {
		t.Errorf("status = %s, want pending", failure.Status)
	}
	if failure.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", failure.RetryCount)
	}
	if failure.MaxRetryAttempts != e.cfg.MaxRetryAttempts {
		t.Errorf("max_retry_attempts = %d, want %d", failure.MaxRetryAttempts, e.cfg.MaxRetryAttempts)
	}
	if failure.NextRetryAt == nil {
		t.Error("next_retry_at not scheduled")
	}
}

func TestRecordFailureDeduplicates(t *testing.T) {
	e := newTestEngine(t)

	first := e.recordFailure(t, "c1", "evt_dup")
	second := e.recordFailure(t, "c1", "evt_dup")

	if first.ID != second.ID {
		t.Errorf("duplicate event created a second failure: %s vs %s", first.ID, second.ID)
	}

	all, err := e.store.Failure().List(context.Background(), domain.FailureFilter{CustomerID: "c1"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("stored failures = %d, want 1", len(all))
	}
}

func TestRecordFailureRefreshesOpenCase(t *testing.T) {
	e := newTestEngine(t)

	first := e.recordFailure(t, "c1", "evt_1")

	second, err := e.tracker.RecordFailure(context.Background(), FailureEvent{
		CustomerID:      "c1",
		Amount:          4200,
		Currency:        "usd",
		FailureReason:   "expired card",
		FailureCode:     "expired_card",
		PaymentMethodID: "pm_2",
		IdempotencyKey:  "evt_2",
	})
	if err != nil {
		t.Fatalf("RecordFailure() error: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("new event against open case created a second failure")
	}
	if second.Amount != 4200 || second.FailureCode != "expired_card" {
		t.Errorf("open case not refreshed: amount=%d code=%s", second.Amount, second.FailureCode)
	}
	if second.RetryCount != first.RetryCount {
		t.Errorf("retry budget reset by refresh: %d", second.RetryCount)
	}
}

func TestListFailuresScopesCustomers(t *testing.T) {
	e := newTestEngine(t)

	e.recordFailure(t, "c1", "evt_1")
	e.recordFailure(t, "c2", "evt_2")

	mine, err := e.tracker.ListFailures(customerCtx("c1"), domain.FailureFilter{})
	if err != nil {
		t.Fatalf("ListFailures() error: %v", err)
	}
	if len(mine) != 1 || mine[0].CustomerID != "c1" {
		t.Errorf("customer list not scoped to own failures: %d rows", len(mine))
	}

	all, err := e.tracker.ListFailures(adminCtx(), domain.FailureFilter{})
	if err != nil {
		t.Fatalf("ListFailures() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("admin list = %d rows, want 2", len(all))
	}
}
