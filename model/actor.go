package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ActorParty is a closed set; Independent actors have no opposite party and
// therefore no challenger slot.
const (
	PartyDemocratic  = "DEMOCRATIC"
	PartyRepublican  = "REPUBLICAN"
	PartyIndependent = "INDEPENDENT"
)

// PartyFromLetter maps single-letter party codes from upstream data feeds.
func PartyFromLetter(letter string) (string, error) {
	switch letter {
	case "D":
		return PartyDemocratic, nil
	case "R":
		return PartyRepublican, nil
	}
	return "", fmt.Errorf("unknown party letter %q", letter)
}

// OppositeParty returns the opposing major party.
func OppositeParty(party string) (string, error) {
	switch party {
	case PartyDemocratic:
		return PartyRepublican, nil
	case PartyRepublican:
		return PartyDemocratic, nil
	}
	return "", fmt.Errorf("party %s does not have an opposite party", party)
}

// Actor is a public figure who might take the action a trigger describes.
// Its fields track the present; Actions freeze them at event time.
type Actor struct {
	ID             int64     `json:"-"`
	ActorID        string    `json:"actor_id"`
	GovtrackID     int       `json:"govtrack_id"`
	Office         string    `json:"office,omitempty"`
	NameLong       string    `json:"name_long"`
	NameShort      string    `json:"name_short"`
	NameSort       string    `json:"name_sort"`
	Party          string    `json:"party"`
	Title          string    `json:"title"`
	ChallengerID   string    `json:"challenger_id,omitempty"`
	InactiveReason string    `json:"inactive_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Action is the frozen record of what one actor did when a trigger
// resolved: either an outcome index into the trigger's outcomes, or a
// free-text reason for having no outcome. One per (execution, actor).
//
// TotalContributionsFor/Against are cached running totals mutated only by
// contribution aggregate deltas.
type Action struct {
	ID                        int64           `json:"-"`
	ActionID                  string          `json:"action_id"`
	ExecutionID               string          `json:"execution_id"`
	ActorID                   string          `json:"actor_id"`
	ActionTime                time.Time       `json:"action_time"`
	Outcome                   *int            `json:"outcome,omitempty"`
	ReasonForNoOutcome        string          `json:"reason_for_no_outcome,omitempty"`
	NameLong                  string          `json:"name_long"`
	NameShort                 string          `json:"name_short"`
	NameSort                  string          `json:"name_sort"`
	Party                     string          `json:"party"`
	Title                     string          `json:"title"`
	Office                    string          `json:"office,omitempty"`
	ChallengerID              string          `json:"challenger_id,omitempty"`
	TotalContributionsFor     decimal.Decimal `json:"total_contributions_for"`
	TotalContributionsAgainst decimal.Decimal `json:"total_contributions_against"`
	CreatedAt                 time.Time       `json:"created_at"`
}

// HasOutcome reports whether the actor produced one of the trigger's
// outcomes.
func (a *Action) HasOutcome() bool {
	return a.Outcome != nil
}

// OutcomeLabel returns display text for the action's result.
func (a *Action) OutcomeLabel(outcomes []Outcome) string {
	if a.Outcome != nil && *a.Outcome >= 0 && *a.Outcome < len(outcomes) {
		return outcomes[*a.Outcome].Label
	}
	if a.ReasonForNoOutcome != "" {
		return a.ReasonForNoOutcome
	}
	return "N/A"
}

// ActorOutcome pairs an actor with what they did, as supplied to trigger
// execution. Outcome is nil when the actor did not participate, in which
// case Reason explains why.
type ActorOutcome struct {
	Actor      *Actor
	Outcome    *int
	Reason     string
	ActionTime *time.Time
}

// NewAction freezes an actor's identity at event time. An actor with an
// InactiveReason set always receives that reason instead of the supplied
// outcome.
func NewAction(execution *TriggerExecution, ao ActorOutcome) *Action {
	a := &Action{
		ActionID:    GenerateUUIDWithSuffix("act"),
		ExecutionID: execution.ExecutionID,
		ActorID:     ao.Actor.ActorID,
		ActionTime:  execution.ActionTime,

		NameLong:     ao.Actor.NameLong,
		NameShort:    ao.Actor.NameShort,
		NameSort:     ao.Actor.NameSort,
		Party:        ao.Actor.Party,
		Title:        ao.Actor.Title,
		Office:       ao.Actor.Office,
		ChallengerID: ao.Actor.ChallengerID,

		TotalContributionsFor:     decimal.Zero,
		TotalContributionsAgainst: decimal.Zero,
	}
	if ao.ActionTime != nil {
		a.ActionTime = *ao.ActionTime
	}
	if ao.Actor.InactiveReason != "" {
		a.ReasonForNoOutcome = ao.Actor.InactiveReason
	} else if ao.Outcome != nil {
		outcome := *ao.Outcome
		a.Outcome = &outcome
	} else {
		a.ReasonForNoOutcome = ao.Reason
	}
	return a
}
