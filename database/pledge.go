package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

// CreatePledge inserts a pledge and, unless the pledge was made after the
// trigger executed, moves the trigger's cached counters in the same
// transaction.
func (d Datasource) CreatePledge(ctx context.Context, pledge *model.Pledge) (*model.Pledge, error) {
	extra, err := json.Marshal(pledge.Extra)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal pledge extra", err)
	}

	if pledge.PledgeID == "" {
		pledge.PledgeID = model.GenerateUUIDWithSuffix("pldg")
	}
	if pledge.Status == "" {
		pledge.Status = model.PledgeStatusOpen
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pledges (pledge_id, user_id, anon_user_id, profile_id, trigger_id, campaign_id, ref_code,
			status, algorithm, made_after_trigger_execution, desired_outcome, amount, incumb_challgr,
			filter_party, filter_competitive, tip_to_campaign_owner, cc_last_four,
			email_confirmed_at, extra)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''),
			$8, $9, $10, $11, $12, $13,
			NULLIF($14, ''), $15, $16, NULLIF($17, ''),
			$18, $19)
	`, pledge.PledgeID, pledge.UserID, pledge.AnonUserID, pledge.ProfileID, pledge.TriggerID, pledge.CampaignID, pledge.RefCode,
		pledge.Status, pledge.Algorithm, pledge.MadeAfterTriggerExecution, pledge.DesiredOutcome, pledge.Amount, pledge.IncumbChallgr,
		pledge.FilterParty, pledge.FilterCompetitive, pledge.TipToCampaignOwner, pledge.CCLastFour,
		pledge.EmailConfirmedAt, extra)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "User already has a pledge for this trigger", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create pledge", err)
	}

	if !pledge.MadeAfterTriggerExecution {
		if err := d.AdjustTriggerPledgeTotals(ctx, tx, pledge.TriggerID, 1, pledge.Amount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return pledge, nil
}

const pledgeColumns = `
	pledge_id, COALESCE(user_id, ''), COALESCE(anon_user_id, ''), profile_id, trigger_id,
	COALESCE(campaign_id, ''), COALESCE(ref_code, ''), status, algorithm, made_after_trigger_execution,
	desired_outcome, amount, incumb_challgr, COALESCE(filter_party, ''), filter_competitive,
	tip_to_campaign_owner, COALESCE(cc_last_four, ''), email_confirmed_at,
	pre_execution_email_sent_at, post_execution_email_sent_at, COALESCE(extra, '{}'),
	created_at, updated_at
`

func scanPledge(row interface{ Scan(...interface{}) error }) (*model.Pledge, error) {
	pledge := model.Pledge{}
	var extra []byte
	err := row.Scan(
		&pledge.PledgeID, &pledge.UserID, &pledge.AnonUserID, &pledge.ProfileID, &pledge.TriggerID,
		&pledge.CampaignID, &pledge.RefCode, &pledge.Status, &pledge.Algorithm, &pledge.MadeAfterTriggerExecution,
		&pledge.DesiredOutcome, &pledge.Amount, &pledge.IncumbChallgr, &pledge.FilterParty, &pledge.FilterCompetitive,
		&pledge.TipToCampaignOwner, &pledge.CCLastFour, &pledge.EmailConfirmedAt,
		&pledge.PreExecutionEmailSentAt, &pledge.PostExecutionEmailSent, &extra,
		&pledge.CreatedAt, &pledge.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(extra, &pledge.Extra); err != nil {
		return nil, err
	}
	return &pledge, nil
}

func (d Datasource) GetPledge(ctx context.Context, pledgeID string) (*model.Pledge, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+pledgeColumns+` FROM pledges WHERE pledge_id = $1
	`, pledgeID)
	pledge, err := scanPledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Pledge not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pledge", err)
	}
	return pledge, nil
}

// GetPledgeForUpdate reads a pledge under a row lock held until the
// transaction ends. This is the first lock taken during settlement; the
// trigger lock follows.
func (d Datasource) GetPledgeForUpdate(ctx context.Context, tx *sql.Tx, pledgeID string) (*model.Pledge, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+pledgeColumns+` FROM pledges WHERE pledge_id = $1 FOR UPDATE
	`, pledgeID)
	pledge, err := scanPledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Pledge not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pledge", err)
	}
	return pledge, nil
}

// GetPledgesByTriggerForUpdate locks and returns every pledge of a trigger,
// in insertion order to keep lock acquisition deterministic.
func (d Datasource) GetPledgesByTriggerForUpdate(ctx context.Context, tx *sql.Tx, triggerID string) ([]*model.Pledge, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+pledgeColumns+` FROM pledges WHERE trigger_id = $1 ORDER BY id FOR UPDATE
	`, triggerID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list pledges", err)
	}
	defer rows.Close()

	var pledges []*model.Pledge
	for rows.Next() {
		pledge, err := scanPledge(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pledge", err)
		}
		pledges = append(pledges, pledge)
	}
	return pledges, rows.Err()
}

func (d Datasource) ListOpenPledgesByTrigger(ctx context.Context, triggerID string) ([]*model.Pledge, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+pledgeColumns+` FROM pledges WHERE trigger_id = $1 AND status = $2 ORDER BY id
	`, triggerID, model.PledgeStatusOpen)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list pledges", err)
	}
	defer rows.Close()

	var pledges []*model.Pledge
	for rows.Next() {
		pledge, err := scanPledge(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pledge", err)
		}
		pledges = append(pledges, pledge)
	}
	return pledges, rows.Err()
}

// ListOpenPledgesForExecutedTriggers is the batch scan: every open pledge
// whose trigger has executed. Eligibility is only a hint here; the settlement
// path re-checks it under lock.
func (d Datasource) ListOpenPledgesForExecutedTriggers(ctx context.Context) ([]*model.Pledge, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+pledgeColumns+` FROM pledges p
		WHERE p.status = $1
		  AND EXISTS (SELECT 1 FROM triggers t WHERE t.trigger_id = p.trigger_id AND t.status = $2)
		ORDER BY p.id
	`, model.PledgeStatusOpen, model.TriggerStatusExecuted)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list executable pledges", err)
	}
	defer rows.Close()

	var pledges []*model.Pledge
	for rows.Next() {
		pledge, err := scanPledge(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pledge", err)
		}
		pledges = append(pledges, pledge)
	}
	return pledges, rows.Err()
}

func (d Datasource) UpdatePledgeStatus(ctx context.Context, tx *sql.Tx, pledgeID, status string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE pledges SET status = $2, updated_at = NOW() WHERE pledge_id = $1
	`, pledgeID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update pledge status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Pledge not found", nil)
	}
	return nil
}

// DeletePledge removes a pledge row. The restrict foreign key from
// pledge_executions turns deletion of an executed pledge into a conflict,
// regardless of what the caller checked beforehand.
func (d Datasource) DeletePledge(ctx context.Context, tx *sql.Tx, pledgeID string) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM pledges WHERE pledge_id = $1
	`, pledgeID)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "Pledge has been executed and cannot be deleted", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete pledge", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Pledge not found", nil)
	}
	return nil
}

func (d Datasource) CreateCancelledPledge(ctx context.Context, tx *sql.Tx, cancelled *model.CancelledPledge) error {
	snapshot, err := json.Marshal(cancelled.Pledge)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal cancelled pledge snapshot", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cancelled_pledges (trigger_id, campaign_id, user_id, anon_user_id, pledge)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5)
	`, cancelled.TriggerID, cancelled.CampaignID, cancelled.UserID, cancelled.AnonUserID, snapshot)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to archive cancelled pledge", err)
	}
	return nil
}

// ConfirmPledgeUser attaches a confirmed user to a provisional anonymous
// pledge. Fails with a conflict when the user already pledged to the same
// trigger.
func (d Datasource) ConfirmPledgeUser(ctx context.Context, pledgeID, userID string, confirmedAt time.Time) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE pledges
		SET user_id = $2, anon_user_id = NULL, email_confirmed_at = $3, updated_at = NOW()
		WHERE pledge_id = $1 AND user_id IS NULL
	`, pledgeID, userID, confirmedAt)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "User already has a pledge for this trigger", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm pledge user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Provisional pledge not found", nil)
	}
	return nil
}

// MarkPreExecutionEmailSent stamps the start of the cancellation grace
// window on a batch of pledges.
func (d Datasource) MarkPreExecutionEmailSent(ctx context.Context, pledgeIDs []string, sentAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE pledges SET pre_execution_email_sent_at = $2, updated_at = NOW()
		WHERE pledge_id = ANY($1) AND pre_execution_email_sent_at IS NULL
	`, pq.Array(pledgeIDs), sentAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark pre-execution email sent", err)
	}
	return nil
}

func (d Datasource) MarkPostExecutionEmailSent(ctx context.Context, pledgeID string, sentAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE pledges SET post_execution_email_sent_at = $2, updated_at = NOW() WHERE pledge_id = $1
	`, pledgeID, sentAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark post-execution email sent", err)
	}
	return nil
}

// ComputeTriggerPledgeTotals recounts the pledges that should be reflected
// in the trigger's cached counters: only those made before execution.
func (d Datasource) ComputeTriggerPledgeTotals(ctx context.Context, triggerID string) (int, decimal.Decimal, error) {
	var count int
	var total decimal.Decimal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM pledges
		WHERE trigger_id = $1 AND made_after_trigger_execution = FALSE
	`, triggerID).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute trigger pledge totals", err)
	}
	return count, total, nil
}

func (d Datasource) CreateContributorProfile(ctx context.Context, profile *model.ContributorProfile) (*model.ContributorProfile, error) {
	extra, err := json.Marshal(profile.Extra)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal profile extra", err)
	}
	if profile.ProfileID == "" {
		profile.ProfileID = model.GenerateUUIDWithSuffix("prf")
	}
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO contributor_profiles (profile_id, cc_last_four, cc_number_hash, is_geocoded, extra)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
	`, profile.ProfileID, profile.CCLastFour, profile.CCNumberHash, profile.IsGeocoded, extra)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create contributor profile", err)
	}
	return profile, nil
}

const profileColumns = `
	profile_id, COALESCE(cc_last_four, ''), COALESCE(cc_number_hash, ''), is_geocoded, COALESCE(extra, '{}'), created_at
`

func scanProfile(row interface{ Scan(...interface{}) error }) (*model.ContributorProfile, error) {
	profile := model.ContributorProfile{}
	var extra []byte
	err := row.Scan(&profile.ProfileID, &profile.CCLastFour, &profile.CCNumberHash, &profile.IsGeocoded, &extra, &profile.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(extra, &profile.Extra); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (d Datasource) GetContributorProfile(ctx context.Context, profileID string) (*model.ContributorProfile, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM contributor_profiles WHERE profile_id = $1
	`, profileID)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Contributor profile not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve contributor profile", err)
	}
	return profile, nil
}

func (d Datasource) UpdateContributorProfileExtra(ctx context.Context, profileID string, isGeocoded bool, extra model.ProfileExtra) error {
	payload, err := json.Marshal(extra)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal profile extra", err)
	}
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE contributor_profiles SET is_geocoded = $2, extra = $3 WHERE profile_id = $1
	`, profileID, isGeocoded, payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update contributor profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Contributor profile not found", nil)
	}
	return nil
}

// FindProfilesByCardLastFour narrows by the indexed last-four column; the
// caller verifies candidates against the bcrypt hash.
func (d Datasource) FindProfilesByCardLastFour(ctx context.Context, lastFour string) ([]*model.ContributorProfile, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+profileColumns+` FROM contributor_profiles WHERE cc_last_four = $1
	`, lastFour)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to search contributor profiles", err)
	}
	defer rows.Close()

	var profiles []*model.ContributorProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan contributor profile", err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}
