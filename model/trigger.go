package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trigger lifecycle states. A trigger only ever moves forward:
// Draft/Open/Paused -> Executed, Open/Paused -> Vacated. Rows are never
// destroyed; terminal states are soft.
const (
	TriggerStatusDraft    = "DRAFT"
	TriggerStatusOpen     = "OPEN"
	TriggerStatusPaused   = "PAUSED"
	TriggerStatusExecuted = "EXECUTED"
	TriggerStatusVacated  = "VACATED"
)

// ParseTriggerStatus rejects any status value not in the closed set, so a
// Trigger can never be constructed in an undefined state from storage.
func ParseTriggerStatus(s string) (string, error) {
	switch s {
	case TriggerStatusDraft, TriggerStatusOpen, TriggerStatusPaused, TriggerStatusExecuted, TriggerStatusVacated:
		return s, nil
	}
	return "", fmt.Errorf("unknown trigger status %q", s)
}

// Outcome is one possible resolution of a Trigger. Order matters: pledges
// and actions refer to outcomes by index.
type Outcome struct {
	VoteKey string `json:"vote_key,omitempty"`
	Label   string `json:"label"`
	Object  string `json:"object,omitempty"`
}

// Trigger is a future real-world event that releases pledged contributions
// once it resolves. PledgeCount and TotalPledged are cached counters that
// reflect only pledges made before execution; they are maintained
// exclusively by pledge create/delete deltas, never recomputed inline.
type Trigger struct {
	ID           int64           `json:"-"`
	TriggerID    string          `json:"trigger_id"`
	Key          string          `json:"key,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Status       string          `json:"status"`
	Outcomes     []Outcome       `json:"outcomes"`
	MaxSplit     int             `json:"max_split"`
	PledgeCount  int             `json:"pledge_count"`
	TotalPledged decimal.Decimal `json:"total_pledged"`
	Extra        TriggerExtra    `json:"extra,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TriggerExecution records how a Trigger resolved. Created exactly once per
// Trigger and immutable afterwards except for its cached counters.
//
// NumContributions and TotalContributions double-count contributions when a
// pledge settles across the actions of several trigger executions: once
// under the pledge's own trigger execution and once under the action's.
// Do not aggregate these fields across triggers.
type TriggerExecution struct {
	ID                      int64           `json:"-"`
	ExecutionID             string          `json:"execution_id"`
	TriggerID               string          `json:"trigger_id"`
	ActionTime              time.Time       `json:"action_time"`
	Cycle                   int             `json:"cycle"`
	Description             string          `json:"description"`
	PledgeCount             int             `json:"pledge_count"`
	PledgeCountWithContribs int             `json:"pledge_count_with_contribs"`
	NumContributions        int             `json:"num_contributions"`
	TotalContributions      decimal.Decimal `json:"total_contributions"`
	Extra                   ExecutionExtra  `json:"extra,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
}

// CanExecuteTriggerFrom reports whether a trigger in this status may be executed.
func CanExecuteTriggerFrom(status string) bool {
	switch status {
	case TriggerStatusDraft, TriggerStatusOpen, TriggerStatusPaused:
		return true
	}
	return false
}

// CanVacateTriggerFrom reports whether a trigger in this status may be vacated.
func CanVacateTriggerFrom(status string) bool {
	return status == TriggerStatusOpen || status == TriggerStatusPaused
}

// MinimumPledge computes the smallest pledge the trigger accepts under the
// given fee schedule: at least alg.MinContrib, and at least one cent to
// every possible recipient plus fees, rounded half up to the cent.
func (t *Trigger) MinimumPledge(alg Algorithm) decimal.Decimal {
	m1 := alg.MinContrib
	m2 := OneCent.
		Mul(decimal.New(int64(t.MaxSplit), 0)).
		Mul(decimal.NewFromInt(1).Add(alg.FeesPercent)).
		Add(alg.FeesFixed)
	m2 = RoundCents(m2)
	if m1.GreaterThan(m2) {
		return m1
	}
	return m2
}

// SuggestedPledge returns the smallest preset round amount at or above the
// minimum, or the minimum itself when every preset is too small.
func (t *Trigger) SuggestedPledge(alg Algorithm) decimal.Decimal {
	m := t.MinimumPledge(alg)
	for _, s := range []string{"2.50", "4", "5", "10", "15"} {
		amt, _ := decimal.NewFromString(s)
		if amt.GreaterThanOrEqual(m) {
			return amt
		}
	}
	return m
}

// Algorithm is one version of the fee schedule and pledge limits. A pledge
// stores the ID of the version in force when it was created and is only
// executable while that version is still current.
type Algorithm struct {
	ID                   int             `json:"id"`
	MinContrib           decimal.Decimal `json:"min_contrib"`
	MaxContrib           decimal.Decimal `json:"max_contrib"`
	FeesFixed            decimal.Decimal `json:"fees_fixed"`
	FeesPercent          decimal.Decimal `json:"fees_percent"`
	PreExecutionWarnTime time.Duration   `json:"pre_execution_warn_time"`
}

// ChargeAmount returns the gross charge for a net contribution total under
// this fee schedule, and the fee portion.
func (a Algorithm) ChargeAmount(net decimal.Decimal) (charge, fees decimal.Decimal) {
	fees = RoundCents(net.Mul(a.FeesPercent).Add(a.FeesFixed))
	return net.Add(fees), fees
}
