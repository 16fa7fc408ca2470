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

// Package pledged is the settlement core for conditional campaign
// contributions: trigger and pledge lifecycles, pledge execution against
// the payment gateway, voids, cancellation, tips and the aggregate-counter
// discipline that keeps cached totals consistent with the underlying
// contribution records.
package pledged

import (
	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/database"
	"github.com/pledgefund/pledged/gateway"
)

type Pledged struct {
	queue      *Queue
	datasource database.IDataSource
	gateway    gateway.Client
	resolver   RecipientResolver
}

// NewPledged wires the settlement core against the loaded configuration.
// The recipient resolver defaults to the filter-based resolver over the
// same datasource.
func NewPledged(db database.IDataSource) (*Pledged, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Pledged{
		queue:      NewQueue(configuration),
		datasource: db,
		gateway:    gateway.NewHTTPClient(configuration.Gateway),
		resolver:   NewDefaultResolver(db),
	}, nil
}
