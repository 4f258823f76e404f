package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

func TestGenerateDailyMetrics(t *testing.T) {
	e := newTestEngine(t)
	ctx := customerCtx("c1")

	f1 := e.recordFailure(t, "c1", "evt_1")
	if _, err := e.campaigns.CreateCampaign(ctx, CreateCampaignRequest{
		CustomerID:       "c1",
		PaymentFailureID: f1.ID,
		CampaignType:     "standard",
	}); err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}

	e.processor.results = append(e.processor.results, succeeded("txn_1"))
	if _, err := e.retrier.RetryPayment(ctx, RetryPaymentRequest{FailureID: f1.ID}); err != nil {
		t.Fatalf("RetryPayment() error: %v", err)
	}

	// A second, unresolved failure without a campaign.
	e.recordFailure(t, "c2", "evt_2")

	rows, err := e.analytics.GenerateDailyMetrics(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateDailyMetrics() error: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("no rollup rows generated")
	}

	var standard *domain.RecoveryAnalyticsRecord
	for _, row := range rows {
		if row.CampaignType == "standard" && row.CustomerSegment == domain.SegmentStandard {
			standard = row
		}
	}
	if standard == nil {
		t.Fatalf("no standard-campaign rollup in %d rows", len(rows))
	}
	if standard.TotalFailures != 1 || standard.ResolvedFailures != 1 {
		t.Errorf("failures = %d/%d, want 1/1", standard.ResolvedFailures, standard.TotalFailures)
	}
	if standard.RecoveryRate != 1.0 {
		t.Errorf("recovery_rate = %f, want 1.0", standard.RecoveryRate)
	}
	if standard.RevenueRecovered != 2500 {
		t.Errorf("revenue_recovered = %d, want 2500", standard.RevenueRecovered)
	}
}

func TestGenerateDailyMetricsIdempotent(t *testing.T) {
	e := newTestEngine(t)

	e.recordFailure(t, "c1", "evt_1")
	date := time.Now().UTC()

	if _, err := e.analytics.GenerateDailyMetrics(context.Background(), date); err != nil {
		t.Fatalf("GenerateDailyMetrics() error: %v", err)
	}
	if _, err := e.analytics.GenerateDailyMetrics(context.Background(), date); err != nil {
		t.Fatalf("GenerateDailyMetrics() rerun error: %v", err)
	}

	rows, err := e.analytics.GetAnalytics(adminCtx(), domain.AnalyticsFilter{})
	if err != nil {
		t.Fatalf("GetAnalytics() error: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rollup rows after rerun = %d, want 1", len(rows))
	}
	if rows[0].TotalFailures != 1 {
		t.Errorf("total_failures = %d, want 1 (no double counting)", rows[0].TotalFailures)
	}
}

func TestGetAnalyticsRequiresAdmin(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.analytics.GetAnalytics(customerCtx("c1"), domain.AnalyticsFilter{})
	if !domain.HasCode(err, domain.ErrCodeAccessDenied) {
		t.Errorf("customer analytics query: error = %v, want ACCESS_DENIED", err)
	}
}
