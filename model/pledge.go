package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// Pledge lifecycle states.
const (
	PledgeStatusOpen     = "OPEN"
	PledgeStatusExecuted = "EXECUTED"
	PledgeStatusVacated  = "VACATED"
)

// Pledge is a user's conditional promise to contribute, contingent on its
// trigger resolving. Unique per (trigger, user) and (trigger, anon user).
// A pledge from an anonymous user is provisional until the email address is
// confirmed and is never executed.
type Pledge struct {
	ID         int64  `json:"-"`
	PledgeID   string `json:"pledge_id"`
	UserID     string `json:"user_id,omitempty"`
	AnonUserID string `json:"anon_user_id,omitempty"`
	ProfileID  string `json:"profile_id"`
	TriggerID  string `json:"trigger_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	RefCode    string `json:"ref_code,omitempty"`

	Status                    string `json:"status"`
	Algorithm                 int    `json:"algorithm"`
	MadeAfterTriggerExecution bool   `json:"made_after_trigger_execution"`

	DesiredOutcome    int             `json:"desired_outcome"`
	Amount            decimal.Decimal `json:"amount"`
	IncumbChallgr     float64         `json:"incumb_challgr"`
	FilterParty       string          `json:"filter_party,omitempty"`
	FilterCompetitive bool            `json:"filter_competitive"`

	TipToCampaignOwner decimal.Decimal `json:"tip_to_campaign_owner"`
	CCLastFour         string          `json:"cc_last_four,omitempty"`

	EmailConfirmedAt        *time.Time `json:"email_confirmed_at,omitempty"`
	PreExecutionEmailSentAt *time.Time `json:"pre_execution_email_sent_at,omitempty"`
	PostExecutionEmailSent  *time.Time `json:"post_execution_email_sent_at,omitempty"`

	Extra     PledgeExtra `json:"extra,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Validate checks a new pledge against the trigger it is for and the fee
// schedule in force.
func (p *Pledge) Validate(t *Trigger, alg Algorithm) error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ProfileID, validation.Required),
		validation.Field(&p.TriggerID, validation.Required),
		validation.Field(&p.DesiredOutcome, validation.Min(0), validation.Max(len(t.Outcomes)-1)),
		validation.Field(&p.Amount,
			validation.Required,
			validation.By(func(interface{}) error {
				if p.Amount.LessThan(t.MinimumPledge(alg)) {
					return validation.NewError("validation_amount_minimum", "amount is below the minimum pledge")
				}
				if p.Amount.GreaterThan(alg.MaxContrib) {
					return validation.NewError("validation_amount_maximum", "amount exceeds the maximum contribution")
				}
				return nil
			})),
		validation.Field(&p.IncumbChallgr, validation.Min(-1.0), validation.Max(1.0)),
		validation.Field(&p.FilterParty, validation.In("", PartyDemocratic, PartyRepublican)),
		validation.Field(&p.UserID, validation.Required.When(p.AnonUserID == "").Error("either user_id or anon_user_id is required")),
	)
}

// NeedsPreExecutionEmail reports whether the pledge must wait for a
// pre-execution notice before it can settle. Users who confirmed their
// email after the trigger executed missed the notice window and are not
// held up; pledges made after execution settle immediately.
func (p *Pledge) NeedsPreExecutionEmail(triggerExecutedAt time.Time) bool {
	if p.EmailConfirmedAt != nil && !p.EmailConfirmedAt.Before(triggerExecutedAt) {
		return false
	}
	if p.MadeAfterTriggerExecution {
		return false
	}
	return true
}

// CanExecute is the eligibility predicate for settlement. It is pure: no
// side effects, no clock reads. Callers must re-evaluate it under lock at
// execution time rather than trusting an earlier batch scan.
func (p *Pledge) CanExecute(t *Trigger, te *TriggerExecution, alg Algorithm, enforceEmailDelay bool, now time.Time) bool {
	if p.Status != PledgeStatusOpen {
		return false
	}
	if t.Status != TriggerStatusExecuted {
		return false
	}
	if p.Algorithm != alg.ID {
		return false
	}
	if p.UserID == "" {
		// Unconfirmed anonymous pledge: never executable.
		return false
	}
	if p.PreExecutionEmailSentAt == nil {
		if p.NeedsPreExecutionEmail(te.CreatedAt) {
			return false
		}
	} else if enforceEmailDelay && now.Sub(*p.PreExecutionEmailSentAt) < alg.PreExecutionWarnTime {
		// Give the user the grace window to cancel before charging.
		return false
	}
	return true
}

// CancelledPledge archives a cancelled pledge. The live row is removed;
// this snapshot is what remains.
type CancelledPledge struct {
	ID         int64                  `json:"-"`
	TriggerID  string                 `json:"trigger_id"`
	CampaignID string                 `json:"campaign_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	AnonUserID string                 `json:"anon_user_id,omitempty"`
	Pledge     map[string]interface{} `json:"pledge"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewCancelledPledge snapshots the fields that survive cancellation, in
// portable scalar forms (amounts as strings, timestamps as RFC 3339), plus
// the contributor profile data.
func NewCancelledPledge(p *Pledge, profile *ContributorProfile) *CancelledPledge {
	snapshot := map[string]interface{}{
		"created":         p.CreatedAt.Format(time.RFC3339),
		"updated":         p.UpdatedAt.Format(time.RFC3339),
		"ref_code":        p.RefCode,
		"algorithm":       p.Algorithm,
		"desired_outcome": p.DesiredOutcome,
		"amount":          p.Amount.StringFixed(2),
	}
	if profile != nil {
		snapshot["contributor"] = profile.Extra.Contributor
	}
	return &CancelledPledge{
		TriggerID:  p.TriggerID,
		CampaignID: p.CampaignID,
		UserID:     p.UserID,
		AnonUserID: p.AnonUserID,
		Pledge:     snapshot,
	}
}
