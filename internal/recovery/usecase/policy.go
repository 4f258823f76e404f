package usecase

import (
	"math/rand"
	"time"

	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// BackoffPolicy computes the delay before the next retry attempt.
// Thresholds come from configuration, not constants.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterMax   time.Duration
	MaxAttempts int
}

// NewBackoffPolicy builds the policy from the recovery configuration.
func NewBackoffPolicy(cfg config.RecoveryConfig) BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		JitterMax:   cfg.RetryJitterMax,
		MaxAttempts: cfg.MaxRetryAttempts,
	}
}

// Delay returns base × 2^retryCount capped at MaxDelay, plus jitter in
// [0, JitterMax). retryCount is the count after the attempt being
// scheduled for.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(p.JitterMax)))
	}
	return delay
}

// SuspensionPolicy decides whether a customer's billing history warrants
// suspension. The rule is pluggable; failures arrive oldest first along
// with the customer's campaigns.
type SuspensionPolicy func(failures []*domain.PaymentFailure, campaigns []*domain.DunningCampaign) bool

// DefaultSuspensionPolicy suspends when the most recent failure was
// abandoned, or when an open failure's dunning campaign ran through its
// whole sequence without recovering the payment.
func DefaultSuspensionPolicy(failures []*domain.PaymentFailure, campaigns []*domain.DunningCampaign) bool {
	if len(failures) == 0 {
		return false
	}

	if latest := failures[len(failures)-1]; latest.Status == domain.FailureStatusAbandoned {
		return true
	}

	campaignByFailure := make(map[string]*domain.DunningCampaign, len(campaigns))
	for _, c := range campaigns {
		campaignByFailure[c.PaymentFailureID.String()] = c
	}

	for _, f := range failures {
		if !f.Open() {
			continue
		}
		c, ok := campaignByFailure[f.ID.String()]
		if ok && c.Status == domain.CampaignStatusCompleted {
			return true
		}
	}
	return false
}
