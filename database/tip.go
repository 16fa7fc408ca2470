package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

// CreateTip inserts the one-shot tip record for a pledge. A second tip for
// the same pledge is a conflict.
func (d Datasource) CreateTip(ctx context.Context, tip *model.Tip) (*model.Tip, error) {
	extra, err := json.Marshal(tip.Extra)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal tip extra", err)
	}
	if tip.TipID == "" {
		tip.TipID = model.GenerateUUIDWithSuffix("tip")
	}
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO tips (tip_id, user_id, profile_id, amount, recipient_org_id, gateway_recipient_id, campaign_id, pledge_id, ref_code, extra)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10)
	`, tip.TipID, tip.UserID, tip.ProfileID, tip.Amount, tip.RecipientOrgID, tip.GatewayRecipientID,
		tip.CampaignID, tip.PledgeID, tip.RefCode, extra)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Pledge already has a tip", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create tip", err)
	}
	return tip, nil
}

func (d Datasource) GetTipByPledge(ctx context.Context, pledgeID string) (*model.Tip, error) {
	tip := model.Tip{}
	var extra []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT tip_id, user_id, profile_id, amount, recipient_org_id, gateway_recipient_id,
			COALESCE(campaign_id, ''), pledge_id, COALESCE(ref_code, ''), COALESCE(extra, '{}'), created_at
		FROM tips WHERE pledge_id = $1
	`, pledgeID).Scan(
		&tip.TipID, &tip.UserID, &tip.ProfileID, &tip.Amount, &tip.RecipientOrgID, &tip.GatewayRecipientID,
		&tip.CampaignID, &tip.PledgeID, &tip.RefCode, &extra, &tip.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Tip not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve tip", err)
	}
	if err := json.Unmarshal(extra, &tip.Extra); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal tip extra", err)
	}
	return &tip, nil
}
