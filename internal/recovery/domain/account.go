package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// AccountStateValue represents a customer's access tier
type AccountStateValue string

const (
	AccountStateActive      AccountStateValue = "active"
	AccountStateGracePeriod AccountStateValue = "grace_period"
	AccountStateRestricted  AccountStateValue = "restricted"
	AccountStateSuspended   AccountStateValue = "suspended"
	AccountStateReactivated AccountStateValue = "reactivated"
)

// AccountState is one row of the append-only account state history.
// The authoritative row per customer is the one with the greatest
// UpdatedAt; history is never overwritten.
type AccountState struct {
	ID                  uuid.UUID          `json:"id"`
	CustomerID          string             `json:"customer_id"`
	State               AccountStateValue  `json:"state"`
	Reason              string             `json:"reason"`
	GracePeriodEnd      *time.Time         `json:"grace_period_end,omitempty"`
	SuspensionDate      *time.Time         `json:"suspension_date,omitempty"`
	ReactivationDate    *time.Time         `json:"reactivation_date,omitempty"`
	FeatureRestrictions []string           `json:"feature_restrictions"`
	ManualOverride      bool               `json:"manual_override"`
	OverrideReason      string             `json:"override_reason,omitempty"`
	OverrideBy          string             `json:"override_by,omitempty"`
	PreviousState       *AccountStateValue `json:"previous_state,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// accountTransition represents a valid automatic state transition.
type accountTransition struct {
	From AccountStateValue
	To   AccountStateValue
}

// validAccountTransitions defines the automatic transition graph. Manual
// override bypasses it entirely.
var validAccountTransitions = map[accountTransition]bool{
	{AccountStateActive, AccountStateGracePeriod}:      true, // failure unresolved past grace threshold
	{AccountStateGracePeriod, AccountStateRestricted}:  true, // grace period expired
	{AccountStateRestricted, AccountStateSuspended}:    true, // dunning exhausted or failure abandoned
	{AccountStateGracePeriod, AccountStateActive}:      true, // failure resolved within grace
	{AccountStateRestricted, AccountStateActive}:       true, // failure resolved while restricted
	{AccountStateSuspended, AccountStateActive}:        true, // failure resolved while suspended
	{AccountStateReactivated, AccountStateActive}:      true,
	{AccountStateReactivated, AccountStateGracePeriod}: true, // new failure after reactivation
	{AccountStateGracePeriod, AccountStateReactivated}: true,
	{AccountStateRestricted, AccountStateReactivated}:  true,
	{AccountStateSuspended, AccountStateReactivated}:   true,
}

// CanTransition checks whether an automatic transition is part of the graph.
func CanTransition(from, to AccountStateValue) bool {
	if from == to {
		return true
	}
	return validAccountTransitions[accountTransition{from, to}]
}

// ValidTransitionsFrom returns all automatic target states from a state,
// sorted for deterministic callers and tests.
func ValidTransitionsFrom(from AccountStateValue) []AccountStateValue {
	targets := make([]AccountStateValue, 0)
	for t := range validAccountTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}

// MasterFeatureList is the full capability set of a healthy account.
var MasterFeatureList = []string{
	"create_records",
	"export_data",
	"api_access",
	"invite_members",
	"premium_reports",
	"priority_support",
}

// restrictionsByState declares which capabilities each access tier loses.
var restrictionsByState = map[AccountStateValue][]string{
	AccountStateActive:      {},
	AccountStateReactivated: {},
	AccountStateGracePeriod: {},
	AccountStateRestricted:  {"create_records", "invite_members", "premium_reports"},
	AccountStateSuspended:   append([]string(nil), MasterFeatureList...),
}

// RestrictionsFor returns the declared feature restrictions for a state.
func RestrictionsFor(state AccountStateValue) []string {
	return append([]string(nil), restrictionsByState[state]...)
}

// AllowedFeatures returns the complement of the master feature list minus
// the given restrictions.
func AllowedFeatures(restrictions []string) []string {
	allowed := make([]string, 0, len(MasterFeatureList))
	for _, f := range MasterFeatureList {
		if !slices.Contains(restrictions, f) {
			allowed = append(allowed, f)
		}
	}
	return allowed
}

// FeatureAccess is the answer to a feature restriction query.
type FeatureAccess struct {
	AccountState    AccountStateValue `json:"account_state"`
	Restrictions    []string          `json:"restrictions"`
	AllowedFeatures []string          `json:"allowed_features"`
	GracePeriodEnd  *time.Time        `json:"grace_period_end,omitempty"`
}
