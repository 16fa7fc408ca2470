package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

// CreatePledgeExecution inserts the settlement record for a pledge. The
// unique pledge_id constraint makes a second settlement a conflict.
func (d Datasource) CreatePledgeExecution(ctx context.Context, tx *sql.Tx, execution *model.PledgeExecution) error {
	extra, err := json.Marshal(execution.Extra)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal pledge execution extra", err)
	}
	if _, err := model.ParseExecutionProblem(execution.Problem); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pledge_executions (pledge_execution_id, pledge_id, trigger_execution_id, problem, charged, fees, district, extra)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, execution.PledgeExecutionID, execution.PledgeID, execution.TriggerExecutionID, execution.Problem,
		execution.Charged, execution.Fees, execution.District, extra)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "Pledge has already been executed", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create pledge execution", err)
	}
	return nil
}

const pledgeExecutionColumns = `
	pledge_execution_id, pledge_id, trigger_execution_id, problem, charged, fees,
	COALESCE(district, ''), COALESCE(extra, '{}'), created_at
`

func scanPledgeExecution(row interface{ Scan(...interface{}) error }) (*model.PledgeExecution, error) {
	execution := model.PledgeExecution{}
	var extra []byte
	err := row.Scan(
		&execution.PledgeExecutionID, &execution.PledgeID, &execution.TriggerExecutionID, &execution.Problem,
		&execution.Charged, &execution.Fees, &execution.District, &extra, &execution.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(extra, &execution.Extra); err != nil {
		return nil, err
	}
	return &execution, nil
}

func (d Datasource) GetPledgeExecution(ctx context.Context, pledgeExecutionID string) (*model.PledgeExecution, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+pledgeExecutionColumns+` FROM pledge_executions WHERE pledge_execution_id = $1
	`, pledgeExecutionID)
	execution, err := scanPledgeExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Pledge execution not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pledge execution", err)
	}
	return execution, nil
}

func (d Datasource) GetPledgeExecutionByPledge(ctx context.Context, pledgeID string) (*model.PledgeExecution, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+pledgeExecutionColumns+` FROM pledge_executions WHERE pledge_id = $1
	`, pledgeID)
	execution, err := scanPledgeExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Pledge execution not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pledge execution", err)
	}
	return execution, nil
}

// GetPledgeExecutionForUpdate reads a pledge execution under a row lock, so
// concurrent voids of the same execution serialize.
func (d Datasource) GetPledgeExecutionForUpdate(ctx context.Context, tx *sql.Tx, pledgeExecutionID string) (*model.PledgeExecution, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+pledgeExecutionColumns+` FROM pledge_executions WHERE pledge_execution_id = $1 FOR UPDATE
	`, pledgeExecutionID)
	execution, err := scanPledgeExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Pledge execution not found", err)
	} else if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pledge execution", err)
	}
	return execution, nil
}

func (d Datasource) UpdatePledgeExecutionProblem(ctx context.Context, tx *sql.Tx, pledgeExecutionID, problem string, extra model.ExecutionExtra) error {
	if _, err := model.ParseExecutionProblem(problem); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	payload, err := json.Marshal(extra)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal pledge execution extra", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE pledge_executions SET problem = $2, extra = $3 WHERE pledge_execution_id = $1
	`, pledgeExecutionID, problem, payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update pledge execution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Pledge execution not found", nil)
	}
	return nil
}

// UpdatePledgeExecutionExtra overwrites only the extra blob, outside any
// transaction. Used to record gateway void results after the local void
// has committed.
func (d Datasource) UpdatePledgeExecutionExtra(ctx context.Context, pledgeExecutionID string, extra model.ExecutionExtra) error {
	payload, err := json.Marshal(extra)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal pledge execution extra", err)
	}
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE pledge_executions SET extra = $2 WHERE pledge_execution_id = $1
	`, pledgeExecutionID, payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update pledge execution extra", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Pledge execution not found", nil)
	}
	return nil
}

func (d Datasource) UpdatePledgeExecutionDistrict(ctx context.Context, pledgeExecutionID, district string, extra model.ExecutionExtra) error {
	payload, err := json.Marshal(extra)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal pledge execution extra", err)
	}
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE pledge_executions SET district = NULLIF($2, ''), extra = $3 WHERE pledge_execution_id = $1
	`, pledgeExecutionID, district, payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update pledge execution district", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Pledge execution not found", nil)
	}
	return nil
}

// DeletePledgeExecution removes the settlement record row. The caller is
// responsible for having already unwound contributions and aggregates in
// the same transaction.
func (d Datasource) DeletePledgeExecution(ctx context.Context, tx *sql.Tx, pledgeExecutionID string) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM pledge_executions WHERE pledge_execution_id = $1
	`, pledgeExecutionID)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "Pledge execution still has contributions", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete pledge execution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Pledge execution not found", nil)
	}
	return nil
}

func (d Datasource) CreateContribution(ctx context.Context, tx *sql.Tx, contribution *model.Contribution) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO contributions (contribution_id, pledge_execution_id, action_id, recipient_type, recipient_id, amount, gateway_ref)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, contribution.ContributionID, contribution.PledgeExecutionID, contribution.ActionID,
		contribution.RecipientType, contribution.RecipientID, contribution.Amount, contribution.GatewayRef)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return apierror.NewAPIError(apierror.ErrConflict, "Pledge execution already has a contribution for this action", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create contribution", err)
	}
	return nil
}

const contributionColumns = `
	contribution_id, pledge_execution_id, action_id, recipient_type, recipient_id, amount,
	COALESCE(gateway_ref, ''), refunded_at, created_at
`

func scanContribution(row interface{ Scan(...interface{}) error }) (*model.Contribution, error) {
	contribution := model.Contribution{}
	err := row.Scan(
		&contribution.ContributionID, &contribution.PledgeExecutionID, &contribution.ActionID,
		&contribution.RecipientType, &contribution.RecipientID, &contribution.Amount,
		&contribution.GatewayRef, &contribution.RefundedAt, &contribution.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &contribution, nil
}

func (d Datasource) GetContributionsByExecution(ctx context.Context, pledgeExecutionID string) ([]*model.Contribution, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+contributionColumns+` FROM contributions WHERE pledge_execution_id = $1 ORDER BY id
	`, pledgeExecutionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list contributions", err)
	}
	defer rows.Close()

	var contributions []*model.Contribution
	for rows.Next() {
		contribution, err := scanContribution(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan contribution", err)
		}
		contributions = append(contributions, contribution)
	}
	return contributions, rows.Err()
}

func (d Datasource) DeleteContribution(ctx context.Context, tx *sql.Tx, contributionID string) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM contributions WHERE contribution_id = $1
	`, contributionID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete contribution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Contribution not found", nil)
	}
	return nil
}

// ApplyContributionAggregates moves every cached counter a contribution
// feeds, by relative delta. factor is +1 when recording and -1 when
// unwinding a void.
//
// The trigger execution counters are applied per distinct execution in the
// pair (pledge's own execution, the action's execution). When a pledge
// settles across another trigger's actions those differ and the
// contribution counts toward both, deliberately. See
// model.TriggerExecution.
func (d Datasource) ApplyContributionAggregates(ctx context.Context, tx *sql.Tx, contribution *model.Contribution, pledgeTriggerExecutionID string, factor int) error {
	delta := contribution.Amount.Mul(decimal.NewFromInt(int64(factor)))

	column := "total_contributions_for"
	if contribution.RecipientType == model.RecipientTypeGeneralChallenger {
		column = "total_contributions_against"
	}
	var actionExecutionID string
	err := tx.QueryRowContext(ctx, `
		UPDATE actions SET `+column+` = `+column+` + $2 WHERE action_id = $1 RETURNING execution_id
	`, contribution.ActionID, delta).Scan(&actionExecutionID)
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NewAPIError(apierror.ErrNotFound, "Action not found", err)
	} else if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to adjust action totals", err)
	}

	executionIDs := []string{pledgeTriggerExecutionID}
	if actionExecutionID != pledgeTriggerExecutionID {
		executionIDs = append(executionIDs, actionExecutionID)
	}
	for _, executionID := range executionIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE trigger_executions
			SET num_contributions = num_contributions + $2, total_contributions = total_contributions + $3
			WHERE execution_id = $1
		`, executionID, factor, delta)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to adjust trigger execution totals", err)
		}
	}
	return nil
}

// ComputeTriggerExecutionAggregates recounts a trigger execution's cached
// counters from first principles, reproducing the same per-distinct-execution
// accounting ApplyContributionAggregates uses.
func (d Datasource) ComputeTriggerExecutionAggregates(ctx context.Context, executionID string) (pledgeCount, withContribs, numContribs int, total decimal.Decimal, err error) {
	err = d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE EXISTS (
		           SELECT 1 FROM contributions c WHERE c.pledge_execution_id = pe.pledge_execution_id))
		FROM pledge_executions pe WHERE pe.trigger_execution_id = $1
	`, executionID).Scan(&pledgeCount, &withContribs)
	if err != nil {
		return 0, 0, 0, decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count pledge executions", err)
	}

	err = d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM (
			SELECT c.amount FROM contributions c
			JOIN pledge_executions pe ON pe.pledge_execution_id = c.pledge_execution_id
			WHERE pe.trigger_execution_id = $1
			UNION ALL
			SELECT c.amount FROM contributions c
			JOIN actions a ON a.action_id = c.action_id
			JOIN pledge_executions pe ON pe.pledge_execution_id = c.pledge_execution_id
			WHERE a.execution_id = $1 AND pe.trigger_execution_id <> $1
		) contribs
	`, executionID).Scan(&numContribs, &total)
	if err != nil {
		return 0, 0, 0, decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum contributions", err)
	}
	return pledgeCount, withContribs, numContribs, total, nil
}

// ComputeActionContributionTotals recounts an action's cached totals.
func (d Datasource) ComputeActionContributionTotals(ctx context.Context, actionID string) (totalFor, totalAgainst decimal.Decimal, err error) {
	err = d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE recipient_type = $2), 0),
		       COALESCE(SUM(amount) FILTER (WHERE recipient_type = $3), 0)
		FROM contributions WHERE action_id = $1
	`, actionID, model.RecipientTypeIncumbent, model.RecipientTypeGeneralChallenger).Scan(&totalFor, &totalAgainst)
	if err != nil {
		return decimal.Zero, decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute action totals", err)
	}
	return totalFor, totalAgainst, nil
}
