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
	"errors"
	"fmt"

	"github.com/pledgefund/pledged/gateway"
	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

// TipRecipient identifies the campaign-owning organization a tip goes to.
type TipRecipient struct {
	OrgID     string
	GatewayID string
}

// ExecuteTipFromPledge charges the tip a pledge carried for its campaign's
// owner: a single-line-item charge against the same contributor profile,
// tied to the pledge for traceability. A tip is recorded whether the charge
// succeeded or failed, and a pledge is never tipped twice; there is no void
// path for tips here.
func (p *Pledged) ExecuteTipFromPledge(ctx context.Context, pledgeID string, recipient TipRecipient) (*model.Tip, error) {
	ctx, span := tracer.Start(ctx, "ExecuteTipFromPledge")
	defer span.End()

	pledge, err := p.datasource.GetPledge(ctx, pledgeID)
	if err != nil {
		return nil, err
	}
	if pledge.UserID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState, "Pledge has no confirmed user", nil)
	}
	if !pledge.TipToCampaignOwner.IsPositive() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Pledge carries no tip", nil)
	}
	if recipient.OrgID == "" || recipient.GatewayID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Tip recipient is not configured for payments", nil)
	}

	execution, err := p.datasource.GetPledgeExecutionByPledge(ctx, pledgeID)
	if err != nil {
		return nil, err
	}
	if execution.Problem != model.ProblemNoProblem {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Pledge settled with problem %s; no tip is due", execution.Problem), nil)
	}

	if _, err := p.datasource.GetTipByPledge(ctx, pledgeID); err == nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Pledge has already been tipped", nil)
	} else if !apierror.Is(err, apierror.ErrNotFound) {
		return nil, err
	}

	profile, err := p.datasource.GetContributorProfile(ctx, pledge.ProfileID)
	if err != nil {
		return nil, err
	}

	tip := &model.Tip{
		UserID:             pledge.UserID,
		ProfileID:          pledge.ProfileID,
		Amount:             pledge.TipToCampaignOwner,
		RecipientOrgID:     recipient.OrgID,
		GatewayRecipientID: recipient.GatewayID,
		CampaignID:         pledge.CampaignID,
		PledgeID:           pledge.PledgeID,
		RefCode:            pledge.RefCode,
		Extra:              model.ExecutionExtra{Version: 1},
	}

	contributor := profile.Extra.Contributor
	donation, err := p.gateway.CreateDonation(ctx, &gateway.DonationRequest{
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
		LineItems: []gateway.LineItem{{
			RecipientID: recipient.GatewayID,
			Amount:      gateway.FormatAmount(tip.Amount),
		}},
	})
	var validationErr *gateway.ValidationError
	switch {
	case errors.As(err, &validationErr):
		tip.Extra.Exception = validationErr.Reason
	case err != nil:
		// Outcome unknown; record nothing so the tip can be attempted again.
		return nil, err
	default:
		tip.Extra.Donation = donation
	}

	return p.datasource.CreateTip(ctx, tip)
}
