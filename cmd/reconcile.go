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

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// reconcileCommands defines the "reconcile" command: an offline recount of
// every cached aggregate against the underlying rows. Run it while the
// workers are stopped.
func reconcileCommands(b *pledgedInstance) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "recompute cached aggregates and report drift",
		Run: func(cmd *cobra.Command, args []string) {
			report, err := b.pledged.ReconcileAggregates(context.Background(), repair)
			if err != nil {
				log.Fatalf("Error reconciling aggregates: %v", err)
			}

			if len(report.Drifts) == 0 {
				fmt.Println("all aggregates consistent")
				return
			}
			for _, drift := range report.Drifts {
				fmt.Println(drift)
			}
			if repair {
				fmt.Printf("repaired %d divergent counters\n", len(report.Drifts))
			}
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "overwrite divergent counters with recomputed values")
	return cmd
}
