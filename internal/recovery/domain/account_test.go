package domain

import (
	"slices"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from AccountStateValue
		to   AccountStateValue
		want bool
	}{
		{"active to grace_period", AccountStateActive, AccountStateGracePeriod, true},
		{"grace_period to restricted", AccountStateGracePeriod, AccountStateRestricted, true},
		{"restricted to suspended", AccountStateRestricted, AccountStateSuspended, true},
		{"suspended to active", AccountStateSuspended, AccountStateActive, true},
		{"same state is a no-op", AccountStateActive, AccountStateActive, true},
		{"active cannot skip to restricted", AccountStateActive, AccountStateRestricted, false},
		{"active cannot skip to suspended", AccountStateActive, AccountStateSuspended, false},
		{"grace_period cannot skip to suspended", AccountStateGracePeriod, AccountStateSuspended, false},
		{"suspended cannot go back to restricted", AccountStateSuspended, AccountStateRestricted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidTransitionsFromGracePeriod(t *testing.T) {
	targets := ValidTransitionsFrom(AccountStateGracePeriod)

	for _, want := range []AccountStateValue{AccountStateActive, AccountStateRestricted} {
		if !slices.Contains(targets, want) {
			t.Errorf("targets from grace_period = %v, missing %s", targets, want)
		}
	}
	if slices.Contains(targets, AccountStateSuspended) {
		t.Errorf("targets from grace_period = %v, must not contain suspended", targets)
	}
}

func TestRestrictionsFor(t *testing.T) {
	if r := RestrictionsFor(AccountStateActive); len(r) != 0 {
		t.Errorf("active restrictions = %v, want none", r)
	}
	if r := RestrictionsFor(AccountStateSuspended); len(r) != len(MasterFeatureList) {
		t.Errorf("suspended restrictions = %v, want full feature list", r)
	}

	restricted := RestrictionsFor(AccountStateRestricted)
	if len(restricted) == 0 || len(restricted) == len(MasterFeatureList) {
		t.Errorf("restricted restrictions = %v, want a strict subset", restricted)
	}
}

func TestAllowedFeaturesComplement(t *testing.T) {
	restrictions := RestrictionsFor(AccountStateRestricted)
	allowed := AllowedFeatures(restrictions)

	if len(allowed)+len(restrictions) != len(MasterFeatureList) {
		t.Errorf("allowed (%d) + restricted (%d) != master list (%d)",
			len(allowed), len(restrictions), len(MasterFeatureList))
	}
	for _, f := range allowed {
		if slices.Contains(restrictions, f) {
			t.Errorf("feature %q both allowed and restricted", f)
		}
	}
}
