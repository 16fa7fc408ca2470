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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/gateway"
	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/internal/notification"
	"github.com/pledgefund/pledged/model"
)

// ExecutePledge settles one pledge. Locks are taken pledge first, trigger
// second; eligibility is re-checked under those locks rather than trusted
// from the batch scan. The gateway charge happens before any local write,
// and the pledge is marked Executed only after its contributions are
// durably written.
//
// A gateway validation failure settles the pledge as TransactionFailed. A
// gateway transport failure leaves nothing persisted, so a later batch run
// can try again. A local persistence failure after an accepted charge is
// reconciliation-class: money moved without a record, and the error carries
// the gateway transaction identifiers for manual repair.
func (p *Pledged) ExecutePledge(ctx context.Context, pledgeID string) (*model.PledgeExecution, error) {
	ctx, span := tracer.Start(ctx, "ExecutePledge", trace.WithAttributes(attribute.String("pledge.id", pledgeID)))
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	alg := cnf.CurrentAlgorithm()

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	pledge, err := p.datasource.GetPledgeForUpdate(ctx, tx, pledgeID)
	if err != nil {
		return nil, err
	}
	trigger, err := p.datasource.GetTriggerForUpdate(ctx, tx, pledge.TriggerID)
	if err != nil {
		return nil, err
	}
	triggerExecution, err := p.datasource.GetTriggerExecutionByTrigger(ctx, pledge.TriggerID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			return nil, apierror.NewAPIError(apierror.ErrNotExecutable, "Trigger has not executed", err)
		}
		return nil, err
	}

	if !pledge.CanExecute(trigger, triggerExecution, alg, cnf.EnforceEmailDelay(), time.Now()) {
		return nil, apierror.NewAPIError(apierror.ErrNotExecutable,
			fmt.Sprintf("Pledge %s is not executable", pledgeID), nil)
	}

	execution := &model.PledgeExecution{
		PledgeExecutionID:  model.GenerateUUIDWithSuffix("pexc"),
		PledgeID:           pledge.PledgeID,
		TriggerExecutionID: triggerExecution.ExecutionID,
		Problem:            model.ProblemNoProblem,
		Charged:            decimal.Zero,
		Fees:               decimal.Zero,
		Extra:              model.ExecutionExtra{Version: 1},
	}

	resolved, err := p.resolver.Resolve(ctx, pledge, trigger, triggerExecution)
	if err != nil {
		return nil, err
	}

	var donation *model.DonationRecord
	if len(resolved) == 0 {
		execution.Problem = model.ProblemFiltersExcluded
	} else {
		profile, err := p.datasource.GetContributorProfile(ctx, pledge.ProfileID)
		if err != nil {
			return nil, err
		}
		charge, fees := alg.ChargeAmount(pledge.Amount)

		donation, err = p.gateway.CreateDonation(ctx, donationRequest(cnf, profile, pledge, resolved, fees))
		var validationErr *gateway.ValidationError
		switch {
		case errors.As(err, &validationErr):
			execution.Problem = model.ProblemTransactionFailed
			execution.Extra.Exception = validationErr.Reason
			donation = nil
		case err != nil:
			// Outcome unknown. Persist nothing; the pledge stays Open.
			return nil, err
		default:
			execution.Charged = charge
			execution.Fees = fees
			execution.Extra.Donation = donation
		}
	}

	if err := p.persistExecution(ctx, tx, pledge, execution, resolved, donation); err != nil {
		if donation != nil {
			recErr := apierror.NewAPIError(apierror.ErrReconciliationRequired,
				fmt.Sprintf("charge %s captured for pledge %s but settlement was not recorded (transactions %v)",
					donation.DonationID, pledge.PledgeID, donation.TransactionGUIDs()), err)
			notification.NotifyError(recErr)
			return nil, recErr
		}
		return nil, err
	}
	return execution, nil
}

// persistExecution writes the settlement record, its contributions and
// every aggregate delta, flips the pledge to Executed and commits.
func (p *Pledged) persistExecution(ctx context.Context, tx *sql.Tx, pledge *model.Pledge, execution *model.PledgeExecution, resolved []ResolvedRecipient, donation *model.DonationRecord) error {
	if err := p.datasource.CreatePledgeExecution(ctx, tx, execution); err != nil {
		return err
	}

	hasContribs := 0
	if donation != nil {
		hasContribs = 1
		refByRecipient := make(map[string]string)
		for _, li := range donation.LineItems {
			refByRecipient[li.RecipientID] = li.TransactionGUID
		}
		for _, rr := range resolved {
			contribution := &model.Contribution{
				ContributionID:    model.GenerateUUIDWithSuffix("cont"),
				PledgeExecutionID: execution.PledgeExecutionID,
				ActionID:          rr.Action.ActionID,
				RecipientType:     rr.RecipientType,
				RecipientID:       rr.Recipient.RecipientID,
				Amount:            rr.Amount,
				GatewayRef:        refByRecipient[rr.Recipient.GatewayID],
			}
			if err := p.datasource.CreateContribution(ctx, tx, contribution); err != nil {
				return err
			}
			if err := p.datasource.ApplyContributionAggregates(ctx, tx, contribution, execution.TriggerExecutionID, 1); err != nil {
				return err
			}
		}
	}

	if err := p.datasource.AdjustTriggerExecutionPledgeCounts(ctx, tx, execution.TriggerExecutionID, 1, hasContribs); err != nil {
		return err
	}
	if err := p.datasource.UpdatePledgeStatus(ctx, tx, pledge.PledgeID, model.PledgeStatusExecuted); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkPledgeEmailUnconfirmed settles a pledge whose contributor never
// confirmed their email address by the execution cutoff. No money moves;
// the pledge is closed out with an EmailUnconfirmed record so batch runs
// stop revisiting it.
func (p *Pledged) MarkPledgeEmailUnconfirmed(ctx context.Context, pledgeID string) (*model.PledgeExecution, error) {
	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	pledge, err := p.datasource.GetPledgeForUpdate(ctx, tx, pledgeID)
	if err != nil {
		return nil, err
	}
	if pledge.Status != model.PledgeStatusOpen {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Pledge is %s and cannot be marked unconfirmed", pledge.Status), nil)
	}
	if pledge.UserID != "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			"Pledge has a confirmed user", nil)
	}
	triggerExecution, err := p.datasource.GetTriggerExecutionByTrigger(ctx, pledge.TriggerID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			return nil, apierror.NewAPIError(apierror.ErrNotExecutable, "Trigger has not executed", err)
		}
		return nil, err
	}

	execution := &model.PledgeExecution{
		PledgeExecutionID:  model.GenerateUUIDWithSuffix("pexc"),
		PledgeID:           pledge.PledgeID,
		TriggerExecutionID: triggerExecution.ExecutionID,
		Problem:            model.ProblemEmailUnconfirmed,
		Charged:            decimal.Zero,
		Fees:               decimal.Zero,
		Extra:              model.ExecutionExtra{Version: 1},
	}
	if err := p.persistExecution(ctx, tx, pledge, execution, nil, nil); err != nil {
		return nil, err
	}
	return execution, nil
}

// donationRequest builds the gateway charge: one line item per resolved
// recipient at its split amount, plus the fee line item when a fee
// recipient is configured.
func donationRequest(cnf *config.Configuration, profile *model.ContributorProfile, pledge *model.Pledge, resolved []ResolvedRecipient, fees decimal.Decimal) *gateway.DonationRequest {
	contributor := profile.Extra.Contributor
	req := &gateway.DonationRequest{
		DonorFirstName:  contributor.NameFirst,
		DonorLastName:   contributor.NameLast,
		DonorAddress1:   contributor.Address,
		DonorCity:       contributor.City,
		DonorState:      contributor.State,
		DonorZip:        contributor.Zip,
		DonorEmployer:   contributor.Employer,
		DonorOccupation: contributor.Occupation,
		CardToken:       profile.Extra.Billing.CardToken,
		Reference:       pledge.PledgeID,
	}
	for _, rr := range resolved {
		req.LineItems = append(req.LineItems, gateway.LineItem{
			RecipientID: rr.Recipient.GatewayID,
			Amount:      gateway.FormatAmount(rr.Amount),
		})
	}
	if cnf.Gateway.FeesRecipientID != "" && fees.IsPositive() {
		req.LineItems = append(req.LineItems, gateway.LineItem{
			RecipientID: cnf.Gateway.FeesRecipientID,
			Amount:      gateway.FormatAmount(fees),
		})
	}
	return req
}

// VoidPledgeExecution reverses a settled execution. All local state changes
// commit first; only then are the gateway transactions voided or refunded,
// because once the local record says Voided the user must never be charged
// again even if the remote reversal needs manual help. The only legal
// transition is a live settlement to Voided; a second void attempt fails.
func (p *Pledged) VoidPledgeExecution(ctx context.Context, pledgeExecutionID string) error {
	ctx, span := tracer.Start(ctx, "VoidPledgeExecution", trace.WithAttributes(attribute.String("pledge_execution.id", pledgeExecutionID)))
	defer span.End()

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	execution, err := p.datasource.GetPledgeExecutionForUpdate(ctx, tx, pledgeExecutionID)
	if err != nil {
		return err
	}
	if execution.Problem != model.ProblemNoProblem {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Execution with problem %s cannot be voided", execution.Problem), nil)
	}
	if execution.Extra.Donation == nil {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			"Execution has no recorded charge to void", nil)
	}

	contributions, err := p.datasource.GetContributionsByExecution(ctx, pledgeExecutionID)
	if err != nil {
		return err
	}
	for _, contribution := range contributions {
		if err := p.datasource.DeleteContribution(ctx, tx, contribution.ContributionID); err != nil {
			return err
		}
		if err := p.datasource.ApplyContributionAggregates(ctx, tx, contribution, execution.TriggerExecutionID, -1); err != nil {
			return err
		}
	}
	if err := p.datasource.AdjustTriggerExecutionPledgeCounts(ctx, tx, execution.TriggerExecutionID, 0, -1); err != nil {
		return err
	}

	// The charge payload moves to the voided key; the live key being empty
	// is what marks "nothing left to refund".
	extra := execution.Extra
	extra.VoidedDonation = extra.Donation
	extra.Donation = nil
	if err := p.datasource.UpdatePledgeExecutionProblem(ctx, tx, pledgeExecutionID, model.ProblemVoided, extra); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, guid := range extra.VoidedDonation.TransactionGUIDs() {
		result, err := p.gateway.VoidOrRefundTransaction(ctx, guid)
		if err != nil {
			recErr := apierror.NewAPIError(apierror.ErrReconciliationRequired,
				fmt.Sprintf("execution %s voided locally but gateway reversal of %s failed", pledgeExecutionID, guid), err)
			notification.NotifyError(recErr)
			return recErr
		}
		extra.Void = append(extra.Void, *result)
	}
	return p.datasource.UpdatePledgeExecutionExtra(ctx, pledgeExecutionID, extra)
}

// DeletePledgeExecution is an operator tool that un-settles a pledge,
// reopening it for a future run. Refused while the execution still holds a
// live charge; void it first.
func (p *Pledged) DeletePledgeExecution(ctx context.Context, pledgeExecutionID string) error {
	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	execution, err := p.datasource.GetPledgeExecutionForUpdate(ctx, tx, pledgeExecutionID)
	if err != nil {
		return err
	}
	if execution.Extra.Donation != nil {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			"Execution holds a live charge; void it before deleting", nil)
	}

	contributions, err := p.datasource.GetContributionsByExecution(ctx, pledgeExecutionID)
	if err != nil {
		return err
	}
	hadContribs := 0
	if len(contributions) > 0 {
		hadContribs = 1
	}
	for _, contribution := range contributions {
		if err := p.datasource.DeleteContribution(ctx, tx, contribution.ContributionID); err != nil {
			return err
		}
		if err := p.datasource.ApplyContributionAggregates(ctx, tx, contribution, execution.TriggerExecutionID, -1); err != nil {
			return err
		}
	}
	if err := p.datasource.AdjustTriggerExecutionPledgeCounts(ctx, tx, execution.TriggerExecutionID, -1, -hadContribs); err != nil {
		return err
	}
	if err := p.datasource.DeletePledgeExecution(ctx, tx, pledgeExecutionID); err != nil {
		return err
	}
	if err := p.datasource.UpdatePledgeStatus(ctx, tx, execution.PledgeID, model.PledgeStatusOpen); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateExecutionDistrict backfills the contributor's district onto a
// settlement record once geocoding resolves it.
func (p *Pledged) UpdateExecutionDistrict(ctx context.Context, pledgeExecutionID string, geocode model.Geocode) error {
	execution, err := p.datasource.GetPledgeExecution(ctx, pledgeExecutionID)
	if err != nil {
		return err
	}
	extra := execution.Extra
	extra.Geocode = &geocode
	return p.datasource.UpdatePledgeExecutionDistrict(ctx, pledgeExecutionID, geocode.District, extra)
}
