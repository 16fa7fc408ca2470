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
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/database"
)

// migrateCommands defines the "migrate" command. The schema is applied with
// idempotent CREATE IF NOT EXISTS statements at connect time, so the command
// just connects and reports.
func migrateCommands(_ *pledgedInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the database schema",
		Run: func(cmd *cobra.Command, args []string) {
			cnf, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error fetching config: %v", err)
			}

			if _, err := database.ConnectDB(cnf.DataSource.Dns); err != nil {
				log.Fatalf("Error migrating schema: %v", err)
			}
			fmt.Println("schema is up to date")
		},
	}
}
