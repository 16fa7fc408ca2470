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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pledgefund/pledged/model"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PLEDGED_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"PLEDGED_REDIS_DNS"`
}

type QueueConfig struct {
	BatchQueue       string `json:"batch_queue" envconfig:"PLEDGED_QUEUE_BATCH_QUEUE"`
	BatchIntervalMin int    `json:"batch_interval_min" envconfig:"PLEDGED_QUEUE_BATCH_INTERVAL_MIN"`
}

type GatewayConfig struct {
	BaseURL   string `json:"base_url" envconfig:"PLEDGED_GATEWAY_BASE_URL"`
	AccountID string `json:"account_id" envconfig:"PLEDGED_GATEWAY_ACCOUNT_ID"`
	APIKey    string `json:"api_key" envconfig:"PLEDGED_GATEWAY_API_KEY"`
	Username  string `json:"username" envconfig:"PLEDGED_GATEWAY_USERNAME"`

	// FeesRecipientID is the processor-side recipient that receives the fee
	// portion of each charge as its own line item, when configured.
	FeesRecipientID string `json:"fees_recipient_id" envconfig:"PLEDGED_GATEWAY_FEES_RECIPIENT_ID"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

// AlgorithmConfig is the JSON shape of one fee-schedule version. Decimal
// fields are strings in the file so they stay exact.
type AlgorithmConfig struct {
	ID                      int    `json:"id"`
	MinContrib              string `json:"min_contrib"`
	MaxContrib              string `json:"max_contrib"`
	FeesFixed               string `json:"fees_fixed"`
	FeesPercent             string `json:"fees_percent"`
	PreExecutionWarnTimeHrs int    `json:"pre_execution_warn_time_hrs"`
}

type PledgingConfig struct {
	// Algorithms is the full fee-schedule history. The highest ID is the
	// version in force; pledges pin the ID that was current at creation.
	Algorithms []AlgorithmConfig `json:"algorithms"`

	// EnforceExecutionEmailDelay can be disabled in test environments so
	// pledges settle without waiting out the cancellation grace window.
	EnforceExecutionEmailDelay *bool `json:"enforce_execution_email_delay"`

	CurrentElectionCycle int `json:"current_election_cycle" envconfig:"PLEDGED_CURRENT_ELECTION_CYCLE"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"PLEDGED_PROJECT_NAME"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Gateway      GatewayConfig    `json:"gateway"`
	Notification Notification     `json:"notification"`
	Pledging     PledgingConfig   `json:"pledging"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("pledged", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called pledged.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Pledged Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Queue.BatchQueue == "" {
		cnf.Queue.BatchQueue = "pledge:execute"
	}
	if cnf.Queue.BatchIntervalMin == 0 {
		cnf.Queue.BatchIntervalMin = 15
	}

	if len(cnf.Pledging.Algorithms) == 0 {
		// Version 1 of the fee schedule: $1-$500 contributions, 20 cents
		// plus 9 percent in fees, one-day cancellation window.
		cnf.Pledging.Algorithms = []AlgorithmConfig{{
			ID:                      1,
			MinContrib:              "1",
			MaxContrib:              "500",
			FeesFixed:               "0.20",
			FeesPercent:             "0.09",
			PreExecutionWarnTimeHrs: 24,
		}}
	}
	if cnf.Pledging.CurrentElectionCycle == 0 {
		cnf.Pledging.CurrentElectionCycle = time.Now().Year()
	}

	for _, a := range cnf.Pledging.Algorithms {
		if _, err := a.Parse(); err != nil {
			return err
		}
	}

	return nil
}

// Parse converts the JSON shape into the exact-decimal model record.
func (a AlgorithmConfig) Parse() (model.Algorithm, error) {
	minContrib, err := decimal.NewFromString(a.MinContrib)
	if err != nil {
		return model.Algorithm{}, err
	}
	maxContrib, err := decimal.NewFromString(a.MaxContrib)
	if err != nil {
		return model.Algorithm{}, err
	}
	feesFixed, err := decimal.NewFromString(a.FeesFixed)
	if err != nil {
		return model.Algorithm{}, err
	}
	feesPercent, err := decimal.NewFromString(a.FeesPercent)
	if err != nil {
		return model.Algorithm{}, err
	}
	return model.Algorithm{
		ID:                   a.ID,
		MinContrib:           minContrib,
		MaxContrib:           maxContrib,
		FeesFixed:            feesFixed,
		FeesPercent:          feesPercent,
		PreExecutionWarnTime: time.Duration(a.PreExecutionWarnTimeHrs) * time.Hour,
	}, nil
}

// CurrentAlgorithm returns the fee-schedule version in force: the entry
// with the highest ID.
func (cnf *Configuration) CurrentAlgorithm() model.Algorithm {
	var current AlgorithmConfig
	for _, a := range cnf.Pledging.Algorithms {
		if a.ID >= current.ID {
			current = a
		}
	}
	alg, err := current.Parse()
	if err != nil {
		// validateAndAddDefaults parsed every entry already.
		logrus.Errorf("invalid algorithm config: %v", err)
	}
	return alg
}

// EnforceEmailDelay reports whether the pre-execution cancellation window
// is enforced. Defaults to true.
func (cnf *Configuration) EnforceEmailDelay() bool {
	if cnf.Pledging.EnforceExecutionEmailDelay == nil {
		return true
	}
	return *cnf.Pledging.EnforceExecutionEmailDelay
}

// MockConfig sets a mock configuration for testing purposes. Partial
// configs get the same defaults as real ones, plus local DNS fields so the
// queue client can be constructed without a live Redis.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.DataSource.Dns == "" {
		mockConfig.DataSource.Dns = "postgres://postgres:@localhost:5432/pledged?sslmode=disable"
	}
	if mockConfig.Redis.Dns == "" {
		mockConfig.Redis.Dns = "localhost:6379"
	}
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		logrus.Debug(err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
