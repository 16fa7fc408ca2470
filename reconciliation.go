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

	"github.com/sirupsen/logrus"

	"github.com/pledgefund/pledged/internal/apierror"
)

// ReconciliationReport lists every cached counter that diverged from the
// underlying rows, and whether it was repaired.
type ReconciliationReport struct {
	Drifts   []string
	Repaired bool
}

// ReconcileAggregates recomputes every cached counter from the underlying
// contribution and pledge rows and compares. Intended as an offline check
// while no settlement is running; with repair set, divergent counters are
// overwritten with the recomputed truth. Divergence found here means a bug
// elsewhere, so each drift is logged loudly.
func (p *Pledged) ReconcileAggregates(ctx context.Context, repair bool) (*ReconciliationReport, error) {
	report := &ReconciliationReport{Repaired: repair}

	triggers, err := p.datasource.ListTriggers(ctx)
	if err != nil {
		return nil, err
	}

	for _, trigger := range triggers {
		count, total, err := p.datasource.ComputeTriggerPledgeTotals(ctx, trigger.TriggerID)
		if err != nil {
			return nil, err
		}
		if count != trigger.PledgeCount || !total.Equal(trigger.TotalPledged) {
			drift := fmt.Sprintf("trigger %s: cached %d/%s, actual %d/%s",
				trigger.TriggerID, trigger.PledgeCount, trigger.TotalPledged, count, total)
			logrus.Warn("aggregate drift: ", drift)
			report.Drifts = append(report.Drifts, drift)
			if repair {
				if err := p.datasource.SetTriggerPledgeTotals(ctx, trigger.TriggerID, count, total); err != nil {
					return nil, err
				}
			}
		}

		execution, err := p.datasource.GetTriggerExecutionByTrigger(ctx, trigger.TriggerID)
		if err != nil {
			if apierror.Is(err, apierror.ErrNotFound) {
				continue
			}
			return nil, err
		}

		pledgeCount, withContribs, numContribs, contribTotal, err := p.datasource.ComputeTriggerExecutionAggregates(ctx, execution.ExecutionID)
		if err != nil {
			return nil, err
		}
		if pledgeCount != execution.PledgeCount || withContribs != execution.PledgeCountWithContribs ||
			numContribs != execution.NumContributions || !contribTotal.Equal(execution.TotalContributions) {
			drift := fmt.Sprintf("trigger execution %s: cached %d/%d/%d/%s, actual %d/%d/%d/%s",
				execution.ExecutionID,
				execution.PledgeCount, execution.PledgeCountWithContribs, execution.NumContributions, execution.TotalContributions,
				pledgeCount, withContribs, numContribs, contribTotal)
			logrus.Warn("aggregate drift: ", drift)
			report.Drifts = append(report.Drifts, drift)
			if repair {
				if err := p.datasource.SetTriggerExecutionAggregates(ctx, execution.ExecutionID, pledgeCount, withContribs, numContribs, contribTotal); err != nil {
					return nil, err
				}
			}
		}

		actions, err := p.datasource.GetActionsByExecution(ctx, execution.ExecutionID)
		if err != nil {
			return nil, err
		}
		for _, action := range actions {
			totalFor, totalAgainst, err := p.datasource.ComputeActionContributionTotals(ctx, action.ActionID)
			if err != nil {
				return nil, err
			}
			if !totalFor.Equal(action.TotalContributionsFor) || !totalAgainst.Equal(action.TotalContributionsAgainst) {
				drift := fmt.Sprintf("action %s: cached %s/%s, actual %s/%s",
					action.ActionID, action.TotalContributionsFor, action.TotalContributionsAgainst, totalFor, totalAgainst)
				logrus.Warn("aggregate drift: ", drift)
				report.Drifts = append(report.Drifts, drift)
				if repair {
					if err := p.datasource.SetActionContributionTotals(ctx, action.ActionID, totalFor, totalAgainst); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return report, nil
}
