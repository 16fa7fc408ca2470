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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

var tracer = otel.Tracer("pledged.settlement")

// TriggerExecutionInput describes how a trigger resolved: when, in which
// election cycle, and what every relevant actor did.
type TriggerExecutionInput struct {
	ActionTime  time.Time
	Cycle       int
	Description string
	Outcomes    []model.ActorOutcome
}

// CreateTrigger validates and stores a new trigger in Draft state.
func (p *Pledged) CreateTrigger(ctx context.Context, trigger *model.Trigger) (*model.Trigger, error) {
	if trigger.Title == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Trigger title is required", nil)
	}
	if len(trigger.Outcomes) < 2 && !trigger.Extra.Monovalent {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Trigger needs at least two outcomes", nil)
	}
	if trigger.MaxSplit < 1 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Trigger max split must be at least one", nil)
	}
	return p.datasource.CreateTrigger(ctx, trigger)
}

// OpenTrigger moves a draft trigger into the Open state so it can accept
// pledges.
func (p *Pledged) OpenTrigger(ctx context.Context, triggerID string) error {
	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	trigger, err := p.datasource.GetTriggerForUpdate(ctx, tx, triggerID)
	if err != nil {
		return err
	}
	if trigger.Status != model.TriggerStatusDraft && trigger.Status != model.TriggerStatusPaused {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Trigger cannot open from status %s", trigger.Status), nil)
	}
	if err := p.datasource.UpdateTriggerStatus(ctx, tx, triggerID, model.TriggerStatusOpen); err != nil {
		return err
	}
	return tx.Commit()
}

// ExecuteTrigger records that the trigger's real-world event happened. It
// creates the execution record and one frozen action per actor, then flips
// the trigger to Executed as the final step, so a crash mid-way leaves the
// trigger in its prior status and the operation can be re-run.
func (p *Pledged) ExecuteTrigger(ctx context.Context, triggerID string, input TriggerExecutionInput) (*model.TriggerExecution, error) {
	ctx, span := tracer.Start(ctx, "ExecuteTrigger", trace.WithAttributes())
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if input.Cycle == 0 {
		input.Cycle = cnf.Pledging.CurrentElectionCycle
	}
	if input.ActionTime.IsZero() {
		input.ActionTime = time.Now()
	}

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	trigger, err := p.datasource.GetTriggerForUpdate(ctx, tx, triggerID)
	if err != nil {
		return nil, err
	}
	if !model.CanExecuteTriggerFrom(trigger.Status) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Trigger cannot execute from status %s", trigger.Status), nil)
	}

	execution := &model.TriggerExecution{
		ExecutionID: model.GenerateUUIDWithSuffix("texc"),
		TriggerID:   trigger.TriggerID,
		ActionTime:  input.ActionTime,
		Cycle:       input.Cycle,
		Description: input.Description,
	}
	if err := p.datasource.CreateTriggerExecution(ctx, tx, execution); err != nil {
		return nil, err
	}

	for _, ao := range input.Outcomes {
		if ao.Outcome != nil && (*ao.Outcome < 0 || *ao.Outcome >= len(trigger.Outcomes)) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("Outcome index %d out of range for trigger", *ao.Outcome), nil)
		}
		if err := p.datasource.CreateAction(ctx, tx, model.NewAction(execution, ao)); err != nil {
			return nil, err
		}
	}

	// Status flips last. Settlement only considers Executed triggers, so no
	// pledge can settle against a half-written execution.
	if err := p.datasource.UpdateTriggerStatus(ctx, tx, triggerID, model.TriggerStatusExecuted); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return execution, nil
}

// ExecuteTriggerEmpty records a resolution with no actor actions. Every
// open pledge will settle as FiltersExcludedAll.
func (p *Pledged) ExecuteTriggerEmpty(ctx context.Context, triggerID, description string) (*model.TriggerExecution, error) {
	return p.ExecuteTrigger(ctx, triggerID, TriggerExecutionInput{Description: description})
}

// VacateTrigger abandons a trigger whose event can no longer happen. Every
// pledge must still be Open; a pledge in any other state aborts the whole
// vacation, because a partially vacated trigger is worse than a loud error.
func (p *Pledged) VacateTrigger(ctx context.Context, triggerID string) error {
	ctx, span := tracer.Start(ctx, "VacateTrigger")
	defer span.End()

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	trigger, err := p.datasource.GetTriggerForUpdate(ctx, tx, triggerID)
	if err != nil {
		return err
	}
	if !model.CanVacateTriggerFrom(trigger.Status) {
		return apierror.NewAPIError(apierror.ErrInvalidState,
			fmt.Sprintf("Trigger cannot vacate from status %s", trigger.Status), nil)
	}

	pledges, err := p.datasource.GetPledgesByTriggerForUpdate(ctx, tx, triggerID)
	if err != nil {
		return err
	}
	for _, pledge := range pledges {
		if pledge.Status != model.PledgeStatusOpen {
			return apierror.NewAPIError(apierror.ErrInvalidState,
				fmt.Sprintf("Pledge %s is %s, cannot vacate trigger", pledge.PledgeID, pledge.Status), nil)
		}
		if err := p.datasource.UpdatePledgeStatus(ctx, tx, pledge.PledgeID, model.PledgeStatusVacated); err != nil {
			return err
		}
	}

	if err := p.datasource.UpdateTriggerStatus(ctx, tx, triggerID, model.TriggerStatusVacated); err != nil {
		return err
	}
	return tx.Commit()
}

// CloneAsAnnouncedPositions derives a companion trigger from an existing
// one, for pledging against announced positions ahead of the real event.
// The clone opens immediately and records its parent in the extra blob.
func (p *Pledged) CloneAsAnnouncedPositions(ctx context.Context, triggerID string) (*model.Trigger, error) {
	source, err := p.datasource.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	clone := &model.Trigger{
		Key:         source.Key + "-announced",
		Title:       source.Title + " (Announced Positions)",
		Description: source.Description,
		Status:      model.TriggerStatusOpen,
		Outcomes:    source.Outcomes,
		MaxSplit:    source.MaxSplit,
		Extra: model.TriggerExtra{
			Subtriggers: []model.SubtriggerRef{{TriggerID: source.TriggerID}},
		},
	}
	if source.Key == "" {
		clone.Key = ""
	}
	return p.datasource.CreateTrigger(ctx, clone)
}

// DeleteTriggerExecution is an operator tool that un-executes a trigger
// that was resolved in error, returning it to Paused. Refused once any
// pledge has settled against it.
func (p *Pledged) DeleteTriggerExecution(ctx context.Context, executionID string) error {
	return p.datasource.DeleteTriggerExecution(ctx, executionID)
}
