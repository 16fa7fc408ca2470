/*
Copyright 2025 Pledged Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package pledged

import (
	"context"
	"fmt"
	"time"

	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

// CreatePledge validates and stores a new pledge. The fee-schedule version
// in force is pinned on the pledge; whether the pledge was made after the
// trigger executed is derived here, not trusted from the caller, because it
// decides whether the trigger's public counters move.
func (p *Pledged) CreatePledge(ctx context.Context, pledge *model.Pledge) (*model.Pledge, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	alg := cnf.CurrentAlgorithm()

	trigger, err := p.datasource.GetTrigger(ctx, pledge.TriggerID)
	if err != nil {
		return nil, err
	}
	switch trigger.Status {
	case model.TriggerStatusOpen, model.TriggerStatusPaused:
		pledge.MadeAfterTriggerExecution = false
	case model.TriggerStatusExecuted:
		pledge.MadeAfterTriggerExecution = true
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Trigger is %s and does not accept pledges", trigger.Status), nil)
	}

	pledge.Algorithm = alg.ID
	pledge.Status = model.PledgeStatusOpen

	if pledge.ProfileID != "" && pledge.CCLastFour == "" {
		profile, err := p.datasource.GetContributorProfile(ctx, pledge.ProfileID)
		if err != nil {
			return nil, err
		}
		pledge.CCLastFour = profile.CCLastFour
	}

	if err := pledge.Validate(trigger, alg); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	return p.datasource.CreatePledge(ctx, pledge)
}

// CancelPledge deletes a pledge and archives a snapshot of it. Only an
// open pledge can be cancelled; the protect-on-delete foreign key backstops
// the status check.
func (p *Pledged) CancelPledge(ctx context.Context, pledgeID string) error {
	ctx, span := tracer.Start(ctx, "CancelPledge")
	defer span.End()

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	pledge, err := p.datasource.GetPledgeForUpdate(ctx, tx, pledgeID)
	if err != nil {
		return err
	}
	if pledge.Status != model.PledgeStatusOpen {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Pledge is %s and cannot be cancelled", pledge.Status), nil)
	}

	profile, err := p.datasource.GetContributorProfile(ctx, pledge.ProfileID)
	if err != nil && !apierror.Is(err, apierror.ErrNotFound) {
		return err
	}

	if err := p.datasource.CreateCancelledPledge(ctx, tx, model.NewCancelledPledge(pledge, profile)); err != nil {
		return err
	}
	if err := p.datasource.DeletePledge(ctx, tx, pledgeID); err != nil {
		return err
	}
	if !pledge.MadeAfterTriggerExecution {
		if err := p.datasource.AdjustTriggerPledgeTotals(ctx, tx, pledge.TriggerID, -1, pledge.Amount.Neg()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConfirmPledgeUser promotes a provisional anonymous pledge to a confirmed
// user after email verification. When the user already has a pledge on the
// same trigger the provisional one is redundant and gets cancelled instead.
func (p *Pledged) ConfirmPledgeUser(ctx context.Context, pledgeID, userID string) error {
	err := p.datasource.ConfirmPledgeUser(ctx, pledgeID, userID, time.Now())
	if apierror.Is(err, apierror.ErrConflict) {
		return p.CancelPledge(ctx, pledgeID)
	}
	return err
}

// MarkPreExecutionNoticesSent records that the pre-execution warning went
// out to a trigger's open pledges, starting their cancellation grace
// window. Returns the pledges that needed the notice; delivery itself is
// someone else's job.
func (p *Pledged) MarkPreExecutionNoticesSent(ctx context.Context, triggerID string) ([]string, error) {
	execution, err := p.datasource.GetTriggerExecutionByTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	pledges, err := p.datasource.ListOpenPledgesByTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	var pledgeIDs []string
	for _, pledge := range pledges {
		if pledge.PreExecutionEmailSentAt != nil {
			continue
		}
		if pledge.UserID == "" {
			continue
		}
		if !pledge.NeedsPreExecutionEmail(execution.CreatedAt) {
			continue
		}
		pledgeIDs = append(pledgeIDs, pledge.PledgeID)
	}
	if len(pledgeIDs) == 0 {
		return nil, nil
	}
	if err := p.datasource.MarkPreExecutionEmailSent(ctx, pledgeIDs, time.Now()); err != nil {
		return nil, err
	}
	return pledgeIDs, nil
}

// FindProfilesByCardNumber locates contributor profiles sharing a card: the
// indexed last-four narrows candidates, the bcrypt hash confirms them.
func (p *Pledged) FindProfilesByCardNumber(ctx context.Context, ccNumber string) ([]*model.ContributorProfile, error) {
	if len(ccNumber) < 4 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Card number too short", nil)
	}
	candidates, err := p.datasource.FindProfilesByCardLastFour(ctx, ccNumber[len(ccNumber)-4:])
	if err != nil {
		return nil, err
	}
	var matches []*model.ContributorProfile
	for _, profile := range candidates {
		if profile.MatchesCardNumber(ccNumber) {
			matches = append(matches, profile)
		}
	}
	return matches, nil
}
