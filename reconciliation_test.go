package pledged

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pledgefund/pledged/database"
	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

// reconDatasource stubs the recount queries with canned truths.
type reconDatasource struct {
	database.IDataSource

	triggers  []*model.Trigger
	execution *model.TriggerExecution
	actions   []*model.Action

	actualPledgeCount int
	actualPledged     decimal.Decimal

	repairedTriggers   []string
	repairedExecutions []string
	repairedActions    []string
}

func (d *reconDatasource) ListTriggers(_ context.Context) ([]*model.Trigger, error) {
	return d.triggers, nil
}

func (d *reconDatasource) ComputeTriggerPledgeTotals(_ context.Context, _ string) (int, decimal.Decimal, error) {
	return d.actualPledgeCount, d.actualPledged, nil
}

func (d *reconDatasource) SetTriggerPledgeTotals(_ context.Context, triggerID string, _ int, _ decimal.Decimal) error {
	d.repairedTriggers = append(d.repairedTriggers, triggerID)
	return nil
}

func (d *reconDatasource) GetTriggerExecutionByTrigger(_ context.Context, _ string) (*model.TriggerExecution, error) {
	if d.execution == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Trigger execution not found", nil)
	}
	return d.execution, nil
}

func (d *reconDatasource) ComputeTriggerExecutionAggregates(_ context.Context, _ string) (int, int, int, decimal.Decimal, error) {
	return 1, 1, 1, decimal.RequireFromString("5.00"), nil
}

func (d *reconDatasource) SetTriggerExecutionAggregates(_ context.Context, executionID string, _, _, _ int, _ decimal.Decimal) error {
	d.repairedExecutions = append(d.repairedExecutions, executionID)
	return nil
}

func (d *reconDatasource) GetActionsByExecution(_ context.Context, _ string) ([]*model.Action, error) {
	return d.actions, nil
}

func (d *reconDatasource) ComputeActionContributionTotals(_ context.Context, _ string) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.RequireFromString("5.00"), decimal.Zero, nil
}

func (d *reconDatasource) SetActionContributionTotals(_ context.Context, actionID string, _, _ decimal.Decimal) error {
	d.repairedActions = append(d.repairedActions, actionID)
	return nil
}

func TestReconcileAggregatesConsistent(t *testing.T) {
	trigger := executedTrigger("trg_1")
	trigger.PledgeCount = 1
	trigger.TotalPledged = decimal.RequireFromString("5.00")

	execution := triggerExecutionFor("trg_1")
	execution.PledgeCount = 1
	execution.PledgeCountWithContribs = 1
	execution.NumContributions = 1
	execution.TotalContributions = decimal.RequireFromString("5.00")

	action := testAction("act_1", "texc_1", 0)
	action.TotalContributionsFor = decimal.RequireFromString("5.00")

	ds := &reconDatasource{
		triggers:          []*model.Trigger{trigger},
		execution:         execution,
		actions:           []*model.Action{action},
		actualPledgeCount: 1,
		actualPledged:     decimal.RequireFromString("5.00"),
	}
	p := &Pledged{datasource: ds}

	report, err := p.ReconcileAggregates(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}

func TestReconcileAggregatesRepairsDrift(t *testing.T) {
	// All three cached layers disagree with the recount.
	trigger := executedTrigger("trg_1")
	trigger.PledgeCount = 2
	trigger.TotalPledged = decimal.RequireFromString("10.00")

	execution := triggerExecutionFor("trg_1")
	action := testAction("act_1", "texc_1", 0)

	ds := &reconDatasource{
		triggers:          []*model.Trigger{trigger},
		execution:         execution,
		actions:           []*model.Action{action},
		actualPledgeCount: 1,
		actualPledged:     decimal.RequireFromString("5.00"),
	}
	p := &Pledged{datasource: ds}

	report, err := p.ReconcileAggregates(context.Background(), true)
	require.NoError(t, err)

	assert.Len(t, report.Drifts, 3)
	assert.True(t, report.Repaired)
	assert.Equal(t, []string{"trg_1"}, ds.repairedTriggers)
	assert.Equal(t, []string{"texc_1"}, ds.repairedExecutions)
	assert.Equal(t, []string{"act_1"}, ds.repairedActions)
}

func TestReconcileAggregatesSkipsUnexecutedTriggers(t *testing.T) {
	trigger := executedTrigger("trg_1")
	trigger.Status = model.TriggerStatusOpen
	trigger.PledgeCount = 1
	trigger.TotalPledged = decimal.RequireFromString("5.00")

	ds := &reconDatasource{
		triggers:          []*model.Trigger{trigger},
		actualPledgeCount: 1,
		actualPledged:     decimal.RequireFromString("5.00"),
	}
	p := &Pledged{datasource: ds}

	report, err := p.ReconcileAggregates(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}
