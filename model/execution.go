package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionProblem codes. A PledgeExecution is logically immutable once
// written; the only legal further transition is NoProblem -> Voided.
const (
	ProblemNoProblem         = "NO_PROBLEM"
	ProblemEmailUnconfirmed  = "EMAIL_UNCONFIRMED"
	ProblemFiltersExcluded   = "FILTERS_EXCLUDED_ALL"
	ProblemTransactionFailed = "TRANSACTION_FAILED"
	ProblemVoided            = "VOIDED"
)

// ParseExecutionProblem rejects unknown problem codes from storage.
func ParseExecutionProblem(s string) (string, error) {
	switch s {
	case ProblemNoProblem, ProblemEmailUnconfirmed, ProblemFiltersExcluded, ProblemTransactionFailed, ProblemVoided:
		return s, nil
	}
	return "", fmt.Errorf("unknown execution problem %q", s)
}

// PledgeExecution is the at-most-one settlement record for a pledge.
// Charged includes fees; contribution amounts exclude them.
type PledgeExecution struct {
	ID                 int64           `json:"-"`
	PledgeExecutionID  string          `json:"pledge_execution_id"`
	PledgeID           string          `json:"pledge_id"`
	TriggerExecutionID string          `json:"trigger_execution_id"`
	Problem            string          `json:"problem"`
	Charged            decimal.Decimal `json:"charged"`
	Fees               decimal.Decimal `json:"fees"`
	District           string          `json:"district,omitempty"`
	Extra              ExecutionExtra  `json:"extra"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Recipient types. Incumbent means the actor who took the action;
// GeneralChallenger means the actor's next general election opponent.
const (
	RecipientTypeIncumbent         = "INCUMBENT"
	RecipientTypeGeneralChallenger = "GENERAL_CHALLENGER"
)

// Recipient is the ultimate payee: either bound to an actor (an incumbent)
// or a logical (office, party) challenger slot. Challenger slots are unique
// per (office, party). Competitive tracks whether the recipient's race is
// currently rated competitive; pledges can restrict themselves to those.
type Recipient struct {
	ID           int64     `json:"-"`
	RecipientID  string    `json:"recipient_id"`
	GatewayID    string    `json:"gateway_id"`
	Active       bool      `json:"active"`
	ActorID      string    `json:"actor_id,omitempty"`
	OfficeSought string    `json:"office_sought,omitempty"`
	Party        string    `json:"party,omitempty"`
	Competitive  bool      `json:"competitive"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsChallenger reports whether the recipient is a challenger slot rather
// than an incumbent.
func (r *Recipient) IsChallenger() bool {
	return r.ActorID == ""
}

// Contribution is one completed money movement to one recipient, part of a
// pledge execution. Unique per (pledge execution, action): a pledge pays an
// action's incumbent or its challenger, never both.
type Contribution struct {
	ID                int64           `json:"-"`
	ContributionID    string          `json:"contribution_id"`
	PledgeExecutionID string          `json:"pledge_execution_id"`
	ActionID          string          `json:"action_id"`
	RecipientType     string          `json:"recipient_type"`
	RecipientID       string          `json:"recipient_id"`
	Amount            decimal.Decimal `json:"amount"`
	GatewayRef        string          `json:"gateway_ref,omitempty"`
	RefundedAt        *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Tip is a one-shot side charge to a campaign-owning organization, tied 1:1
// to an executed pledge. Immutable once created; there is no void path.
type Tip struct {
	ID                 int64           `json:"-"`
	TipID              string          `json:"tip_id"`
	UserID             string          `json:"user_id"`
	ProfileID          string          `json:"profile_id"`
	Amount             decimal.Decimal `json:"amount"`
	RecipientOrgID     string          `json:"recipient_org_id"`
	GatewayRecipientID string          `json:"gateway_recipient_id"`
	CampaignID         string          `json:"campaign_id,omitempty"`
	PledgeID           string          `json:"pledge_id"`
	RefCode            string          `json:"ref_code,omitempty"`
	Extra              ExecutionExtra  `json:"extra"`
	CreatedAt          time.Time       `json:"created_at"`
}
