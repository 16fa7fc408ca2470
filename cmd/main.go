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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pledgefund/pledged"
	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/database"
	"github.com/pledgefund/pledged/internal/notification"
)

// Pledged represents the CLI application, encapsulating the root command.
type Pledged struct {
	cmd *cobra.Command
}

// pledgedInstance holds the runtime instance and its configuration for use
// by subcommands.
type pledgedInstance struct {
	pledged *pledged.Pledged
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the settlement core before any
// command runs.
func preRun(app *pledgedInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("pledged.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPledged, err := setupPledged(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.pledged = newPledged
		app.cnf = cnf
		return nil
	}
}

// setupPledged connects the datasource and builds the settlement core.
func setupPledged(cfg *config.Configuration) (*pledged.Pledged, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newPledged, err := pledged.NewPledged(db)
	if err != nil {
		return nil, fmt.Errorf("error creating pledged: %v", err)
	}
	return newPledged, nil
}

// NewCLI builds the command-line interface with its subcommands.
func NewCLI() *Pledged {
	var configFile string
	b := &pledgedInstance{}

	var rootCmd = &cobra.Command{
		Use:   "pledged",
		Short: "Settlement core for conditional campaign contributions",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./pledged.json", "Configuration file for pledged")
	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(reconcileCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Pledged{cmd: rootCmd}
}

func (w Pledged) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
