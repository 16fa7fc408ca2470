package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// CreateTrigger inserts a trigger in its initial state with zeroed cached
// counters.
func (d Datasource) CreateTrigger(ctx context.Context, trigger *model.Trigger) (*model.Trigger, error) {
	outcomes, err := json.Marshal(trigger.Outcomes)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal trigger outcomes", err)
	}
	extra, err := json.Marshal(trigger.Extra)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal trigger extra", err)
	}

	if trigger.Status == "" {
		trigger.Status = model.TriggerStatusDraft
	}
	if _, err := model.ParseTriggerStatus(trigger.Status); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	trigger.TriggerID = model.GenerateUUIDWithSuffix("trg")
	trigger.PledgeCount = 0
	trigger.TotalPledged = decimal.Zero

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO triggers (trigger_id, key, title, description, status, outcomes, max_split, extra)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
	`, trigger.TriggerID, trigger.Key, trigger.Title, trigger.Description, trigger.Status, outcomes, trigger.MaxSplit, extra)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Trigger with this key already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create trigger", err)
	}
	return trigger, nil
}

const triggerColumns = `
	trigger_id, COALESCE(key, ''), title, description, status, outcomes, max_split,
	pledge_count, total_pledged, COALESCE(extra, '{}'), created_at, updated_at
`

func scanTrigger(row interface{ Scan(...interface{}) error }) (*model.Trigger, error) {
	trigger := model.Trigger{}
	var outcomes, extra []byte
	err := row.Scan(
		&trigger.TriggerID, &trigger.Key, &trigger.Title, &trigger.Description, &trigger.Status,
		&outcomes, &trigger.MaxSplit, &trigger.PledgeCount, &trigger.TotalPledged,
		&extra, &trigger.CreatedAt, &trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(outcomes, &trigger.Outcomes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(extra, &trigger.Extra); err != nil {
		return nil, err
	}
	return &trigger, nil
}

func (d Datasource) GetTrigger(ctx context.Context, triggerID string) (*model.Trigger, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+triggerColumns+` FROM triggers WHERE trigger_id = $1
	`, triggerID)
	trigger, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Trigger not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trigger", err)
	}
	return trigger, nil
}

func (d Datasource) GetTriggerByKey(ctx context.Context, key string) (*model.Trigger, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+triggerColumns+` FROM triggers WHERE key = $1
	`, key)
	trigger, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Trigger not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trigger", err)
	}
	return trigger, nil
}

// GetTriggerForUpdate reads a trigger under a row lock held until the
// transaction ends. Lock a pledge before its trigger, never the reverse.
func (d Datasource) GetTriggerForUpdate(ctx context.Context, tx *sql.Tx, triggerID string) (*model.Trigger, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+triggerColumns+` FROM triggers WHERE trigger_id = $1 FOR UPDATE
	`, triggerID)
	trigger, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Trigger not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trigger", err)
	}
	return trigger, nil
}

func (d Datasource) ListTriggers(ctx context.Context) ([]*model.Trigger, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+triggerColumns+` FROM triggers ORDER BY id
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list triggers", err)
	}
	defer rows.Close()

	var triggers []*model.Trigger
	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan trigger", err)
		}
		triggers = append(triggers, trigger)
	}
	return triggers, rows.Err()
}

func (d Datasource) UpdateTriggerStatus(ctx context.Context, tx *sql.Tx, triggerID, status string) error {
	if _, err := model.ParseTriggerStatus(status); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE triggers SET status = $2, updated_at = NOW() WHERE trigger_id = $1
	`, triggerID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update trigger status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Trigger not found", nil)
	}
	return nil
}

// AdjustTriggerPledgeTotals moves the cached pledge counters by a relative
// delta. Always a delta against the stored value, never a read-modify-write
// of an in-memory copy.
func (d Datasource) AdjustTriggerPledgeTotals(ctx context.Context, tx *sql.Tx, triggerID string, deltaCount int, deltaAmount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE triggers
		SET pledge_count = pledge_count + $2, total_pledged = total_pledged + $3, updated_at = NOW()
		WHERE trigger_id = $1
	`, triggerID, deltaCount, deltaAmount)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to adjust trigger pledge totals", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Trigger not found", nil)
	}
	return nil
}

// SetTriggerPledgeTotals overwrites the cached counters. Reserved for
// offline reconciliation repair.
func (d Datasource) SetTriggerPledgeTotals(ctx context.Context, triggerID string, count int, total decimal.Decimal) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE triggers SET pledge_count = $2, total_pledged = $3, updated_at = NOW() WHERE trigger_id = $1
	`, triggerID, count, total)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set trigger pledge totals", err)
	}
	return nil
}

// CreateTriggerExecution inserts the one-and-only execution record for a
// trigger. A second insert for the same trigger violates the unique
// constraint and surfaces as a conflict.
func (d Datasource) CreateTriggerExecution(ctx context.Context, tx *sql.Tx, execution *model.TriggerExecution) error {
	extra, err := json.Marshal(execution.Extra)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal execution extra", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trigger_executions (execution_id, trigger_id, action_time, cycle, description, pledge_count, pledge_count_with_contribs, num_contributions, total_contributions, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, execution.ExecutionID, execution.TriggerID, execution.ActionTime, execution.Cycle, execution.Description,
		execution.PledgeCount, execution.PledgeCountWithContribs, execution.NumContributions, execution.TotalContributions, extra)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "Trigger already has an execution", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create trigger execution", err)
	}
	return nil
}

const triggerExecutionColumns = `
	execution_id, trigger_id, action_time, cycle, description,
	pledge_count, pledge_count_with_contribs, num_contributions, total_contributions,
	COALESCE(extra, '{}'), created_at
`

func scanTriggerExecution(row interface{ Scan(...interface{}) error }) (*model.TriggerExecution, error) {
	execution := model.TriggerExecution{}
	var extra []byte
	err := row.Scan(
		&execution.ExecutionID, &execution.TriggerID, &execution.ActionTime, &execution.Cycle, &execution.Description,
		&execution.PledgeCount, &execution.PledgeCountWithContribs, &execution.NumContributions, &execution.TotalContributions,
		&extra, &execution.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(extra, &execution.Extra); err != nil {
		return nil, err
	}
	return &execution, nil
}

func (d Datasource) GetTriggerExecution(ctx context.Context, executionID string) (*model.TriggerExecution, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+triggerExecutionColumns+` FROM trigger_executions WHERE execution_id = $1
	`, executionID)
	execution, err := scanTriggerExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Trigger execution not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trigger execution", err)
	}
	return execution, nil
}

func (d Datasource) GetTriggerExecutionByTrigger(ctx context.Context, triggerID string) (*model.TriggerExecution, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+triggerExecutionColumns+` FROM trigger_executions WHERE trigger_id = $1
	`, triggerID)
	execution, err := scanTriggerExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Trigger execution not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trigger execution", err)
	}
	return execution, nil
}

// AdjustTriggerExecutionPledgeCounts moves the per-execution settled-pledge
// counters by a relative delta.
func (d Datasource) AdjustTriggerExecutionPledgeCounts(ctx context.Context, tx *sql.Tx, executionID string, deltaPledges, deltaWithContribs int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE trigger_executions
		SET pledge_count = pledge_count + $2, pledge_count_with_contribs = pledge_count_with_contribs + $3
		WHERE execution_id = $1
	`, executionID, deltaPledges, deltaWithContribs)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to adjust trigger execution pledge counts", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Trigger execution not found", nil)
	}
	return nil
}

// SetTriggerExecutionAggregates overwrites the cached counters. Reserved for
// offline reconciliation repair.
func (d Datasource) SetTriggerExecutionAggregates(ctx context.Context, executionID string, pledgeCount, withContribs, numContribs int, total decimal.Decimal) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE trigger_executions
		SET pledge_count = $2, pledge_count_with_contribs = $3, num_contributions = $4, total_contributions = $5
		WHERE execution_id = $1
	`, executionID, pledgeCount, withContribs, numContribs, total)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set trigger execution aggregates", err)
	}
	return nil
}

// DeleteTriggerExecution removes an execution record and its actions and
// moves the trigger back to Paused. Refuses if any pledge has settled
// against the execution.
func (d Datasource) DeleteTriggerExecution(ctx context.Context, executionID string) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var triggerID string
	err = tx.QueryRowContext(ctx, `
		SELECT trigger_id FROM trigger_executions WHERE execution_id = $1 FOR UPDATE
	`, executionID).Scan(&triggerID)
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NewAPIError(apierror.ErrNotFound, "Trigger execution not found", err)
	} else if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve trigger execution", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM trigger_executions WHERE execution_id = $1
	`, executionID)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "Trigger execution has settled pledges and cannot be deleted", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete trigger execution", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE triggers SET status = $2, updated_at = NOW() WHERE trigger_id = $1
	`, triggerID, model.TriggerStatusPaused)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset trigger status", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

// CreateAction inserts a frozen action snapshot for an execution.
func (d Datasource) CreateAction(ctx context.Context, tx *sql.Tx, action *model.Action) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO actions (action_id, execution_id, actor_id, action_time, outcome, reason_for_no_outcome,
			name_long, name_short, name_sort, party, title, office, challenger_id,
			total_contributions_for, total_contributions_against)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, NULLIF($12, ''), NULLIF($13, ''), $14, $15)
	`, action.ActionID, action.ExecutionID, action.ActorID, action.ActionTime, action.Outcome, action.ReasonForNoOutcome,
		action.NameLong, action.NameShort, action.NameSort, action.Party, action.Title, action.Office, action.ChallengerID,
		action.TotalContributionsFor, action.TotalContributionsAgainst)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "Actor already has an action for this execution", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create action", err)
	}
	return nil
}

const actionColumns = `
	action_id, execution_id, actor_id, action_time, outcome, COALESCE(reason_for_no_outcome, ''),
	name_long, name_short, name_sort, party, title, COALESCE(office, ''), COALESCE(challenger_id, ''),
	total_contributions_for, total_contributions_against, created_at
`

func scanAction(row interface{ Scan(...interface{}) error }) (*model.Action, error) {
	action := model.Action{}
	err := row.Scan(
		&action.ActionID, &action.ExecutionID, &action.ActorID, &action.ActionTime, &action.Outcome, &action.ReasonForNoOutcome,
		&action.NameLong, &action.NameShort, &action.NameSort, &action.Party, &action.Title, &action.Office, &action.ChallengerID,
		&action.TotalContributionsFor, &action.TotalContributionsAgainst, &action.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (d Datasource) GetAction(ctx context.Context, actionID string) (*model.Action, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM actions WHERE action_id = $1
	`, actionID)
	action, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Action not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve action", err)
	}
	return action, nil
}

func (d Datasource) GetActionsByExecution(ctx context.Context, executionID string) ([]*model.Action, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM actions WHERE execution_id = $1 ORDER BY name_sort
	`, executionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list actions", err)
	}
	defer rows.Close()

	var actions []*model.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan action", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// SetActionContributionTotals overwrites the cached totals. Reserved for
// offline reconciliation repair.
func (d Datasource) SetActionContributionTotals(ctx context.Context, actionID string, totalFor, totalAgainst decimal.Decimal) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE actions SET total_contributions_for = $2, total_contributions_against = $3 WHERE action_id = $1
	`, actionID, totalFor, totalAgainst)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set action contribution totals", err)
	}
	return nil
}

func (d Datasource) CreateActor(ctx context.Context, actor *model.Actor) (*model.Actor, error) {
	if actor.ActorID == "" {
		actor.ActorID = model.GenerateUUIDWithSuffix("actr")
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO actors (actor_id, govtrack_id, office, name_long, name_short, name_sort, party, title, challenger_id, inactive_reason)
		VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
	`, actor.ActorID, actor.GovtrackID, actor.Office, actor.NameLong, actor.NameShort, actor.NameSort,
		actor.Party, actor.Title, actor.ChallengerID, actor.InactiveReason)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Actor already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create actor", err)
	}
	return actor, nil
}

func (d Datasource) GetActor(ctx context.Context, actorID string) (*model.Actor, error) {
	actor := model.Actor{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT actor_id, COALESCE(govtrack_id, 0), COALESCE(office, ''), name_long, name_short, name_sort,
			party, title, COALESCE(challenger_id, ''), COALESCE(inactive_reason, ''), created_at
		FROM actors WHERE actor_id = $1
	`, actorID).Scan(
		&actor.ActorID, &actor.GovtrackID, &actor.Office, &actor.NameLong, &actor.NameShort, &actor.NameSort,
		&actor.Party, &actor.Title, &actor.ChallengerID, &actor.InactiveReason, &actor.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Actor not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve actor", err)
	}
	return &actor, nil
}

func (d Datasource) CreateRecipient(ctx context.Context, recipient *model.Recipient) (*model.Recipient, error) {
	if recipient.RecipientID == "" {
		recipient.RecipientID = model.GenerateUUIDWithSuffix("rcp")
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recipients (recipient_id, gateway_id, active, actor_id, office_sought, party, competitive)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
	`, recipient.RecipientID, recipient.GatewayID, recipient.Active, recipient.ActorID, recipient.OfficeSought, recipient.Party, recipient.Competitive)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Recipient already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create recipient", err)
	}
	return recipient, nil
}

const recipientColumns = `
	recipient_id, gateway_id, active, COALESCE(actor_id, ''), COALESCE(office_sought, ''), COALESCE(party, ''), competitive, created_at
`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*model.Recipient, error) {
	recipient := model.Recipient{}
	err := row.Scan(
		&recipient.RecipientID, &recipient.GatewayID, &recipient.Active,
		&recipient.ActorID, &recipient.OfficeSought, &recipient.Party, &recipient.Competitive, &recipient.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &recipient, nil
}

func (d Datasource) GetRecipient(ctx context.Context, recipientID string) (*model.Recipient, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+recipientColumns+` FROM recipients WHERE recipient_id = $1
	`, recipientID)
	recipient, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Recipient not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recipient", err)
	}
	return recipient, nil
}

func (d Datasource) GetRecipientByActor(ctx context.Context, actorID string) (*model.Recipient, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+recipientColumns+` FROM recipients WHERE actor_id = $1
	`, actorID)
	recipient, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Recipient not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recipient", err)
	}
	return recipient, nil
}
