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

	"github.com/shopspring/decimal"

	"github.com/pledgefund/pledged/database"
	"github.com/pledgefund/pledged/internal/apierror"
	"github.com/pledgefund/pledged/model"
)

// ResolvedRecipient is one concrete payee for a pledge: the action that
// earned it, whether the money goes to the actor or their challenger, the
// recipient record, and the proposed share of the pledge amount.
type ResolvedRecipient struct {
	Action        *model.Action
	RecipientType string
	Recipient     *model.Recipient
	Amount        decimal.Decimal
}

// RecipientResolver maps a pledge's preferences to the concrete list of
// recipients with a proposed split. An empty list is a legal result and
// means the pledge's filters excluded everyone.
type RecipientResolver interface {
	Resolve(ctx context.Context, pledge *model.Pledge, trigger *model.Trigger, execution *model.TriggerExecution) ([]ResolvedRecipient, error)
}

// DefaultResolver applies the pledge's filters to the actions of the
// trigger execution. An actor who produced the pledge's desired outcome is
// supported (money to the incumbent); any other outcome is opposed (money
// to the actor's general-election challenger). Actors with no outcome are
// skipped entirely.
type DefaultResolver struct {
	datasource database.IDataSource
}

func NewDefaultResolver(db database.IDataSource) *DefaultResolver {
	return &DefaultResolver{datasource: db}
}

func (r *DefaultResolver) Resolve(ctx context.Context, pledge *model.Pledge, trigger *model.Trigger, execution *model.TriggerExecution) ([]ResolvedRecipient, error) {
	actions, err := r.datasource.GetActionsByExecution(ctx, execution.ExecutionID)
	if err != nil {
		return nil, err
	}

	var resolved []ResolvedRecipient
	for _, action := range actions {
		if !action.HasOutcome() {
			continue
		}

		recipientType := model.RecipientTypeIncumbent
		if *action.Outcome != pledge.DesiredOutcome {
			recipientType = model.RecipientTypeGeneralChallenger
		}

		// IncumbChallgr leans the pledge toward one side: +1 keeps only
		// incumbent contributions, -1 only challenger contributions.
		if pledge.IncumbChallgr > 0 && recipientType == model.RecipientTypeGeneralChallenger {
			continue
		}
		if pledge.IncumbChallgr < 0 && recipientType == model.RecipientTypeIncumbent {
			continue
		}

		recipient, err := r.recipientFor(ctx, action, recipientType)
		if err != nil {
			if apierror.Is(err, apierror.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if recipient == nil || !recipient.Active {
			continue
		}
		if pledge.FilterCompetitive && !recipient.Competitive {
			continue
		}
		if pledge.FilterParty != "" && recipientParty(action, recipient, recipientType) != pledge.FilterParty {
			continue
		}

		resolved = append(resolved, ResolvedRecipient{
			Action:        action,
			RecipientType: recipientType,
			Recipient:     recipient,
		})
	}

	if len(resolved) > trigger.MaxSplit {
		resolved = resolved[:trigger.MaxSplit]
	}

	for i, amount := range model.SplitCents(pledge.Amount, len(resolved)) {
		resolved[i].Amount = amount
	}
	return resolved, nil
}

func (r *DefaultResolver) recipientFor(ctx context.Context, action *model.Action, recipientType string) (*model.Recipient, error) {
	if recipientType == model.RecipientTypeIncumbent {
		return r.datasource.GetRecipientByActor(ctx, action.ActorID)
	}
	if action.ChallengerID == "" {
		// Independents have no challenger slot.
		return nil, nil
	}
	return r.datasource.GetRecipient(ctx, action.ChallengerID)
}

func recipientParty(action *model.Action, recipient *model.Recipient, recipientType string) string {
	if recipientType == model.RecipientTypeIncumbent {
		return action.Party
	}
	if recipient.Party != "" {
		return recipient.Party
	}
	opposite, err := model.OppositeParty(action.Party)
	if err != nil {
		return ""
	}
	return opposite
}
