package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConfigDefaults(t *testing.T) {
	MockConfig(&Configuration{})

	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Pledged Server", cnf.ProjectName)
	assert.Equal(t, "pledge:execute", cnf.Queue.BatchQueue)
	assert.Equal(t, 15, cnf.Queue.BatchIntervalMin)
	assert.NotEmpty(t, cnf.DataSource.Dns)
	assert.NotEmpty(t, cnf.Redis.Dns)

	require.Len(t, cnf.Pledging.Algorithms, 1)
	assert.Equal(t, 1, cnf.Pledging.Algorithms[0].ID)
	assert.Equal(t, time.Now().Year(), cnf.Pledging.CurrentElectionCycle)
}

func TestCurrentAlgorithmPicksHighestID(t *testing.T) {
	MockConfig(&Configuration{
		Pledging: PledgingConfig{
			Algorithms: []AlgorithmConfig{
				{ID: 1, MinContrib: "1", MaxContrib: "500", FeesFixed: "0.20", FeesPercent: "0.09", PreExecutionWarnTimeHrs: 24},
				{ID: 2, MinContrib: "1", MaxContrib: "1000", FeesFixed: "0.30", FeesPercent: "0.08", PreExecutionWarnTimeHrs: 24},
			},
		},
	})

	cnf, err := Fetch()
	require.NoError(t, err)

	alg := cnf.CurrentAlgorithm()
	assert.Equal(t, 2, alg.ID)
	assert.True(t, alg.MaxContrib.Equal(decimal.RequireFromString("1000")))
	assert.True(t, alg.FeesFixed.Equal(decimal.RequireFromString("0.30")))
}

func TestAlgorithmConfigParse(t *testing.T) {
	alg, err := AlgorithmConfig{
		ID:                      1,
		MinContrib:              "1",
		MaxContrib:              "500",
		FeesFixed:               "0.20",
		FeesPercent:             "0.09",
		PreExecutionWarnTimeHrs: 24,
	}.Parse()
	require.NoError(t, err)

	assert.True(t, alg.MinContrib.Equal(decimal.RequireFromString("1")))
	assert.True(t, alg.FeesPercent.Equal(decimal.RequireFromString("0.09")))
	assert.Equal(t, 24*time.Hour, alg.PreExecutionWarnTime)

	_, err = AlgorithmConfig{MinContrib: "not a number"}.Parse()
	assert.Error(t, err)
}

func TestEnforceEmailDelay(t *testing.T) {
	cnf := &Configuration{}
	assert.True(t, cnf.EnforceEmailDelay(), "the cancellation grace window is enforced by default")

	disabled := false
	cnf.Pledging.EnforceExecutionEmailDelay = &disabled
	assert.False(t, cnf.EnforceEmailDelay())
}

func TestValidateRequiresDataSource(t *testing.T) {
	cnf := &Configuration{Redis: RedisConfig{Dns: "localhost:6379"}}
	assert.Error(t, cnf.validateAndAddDefaults())

	cnf = &Configuration{DataSource: DataSourceConfig{Dns: "postgres://localhost/pledged"}}
	assert.Error(t, cnf.validateAndAddDefaults(), "redis DNS is required")

	cnf = &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost/pledged"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	assert.NoError(t, cnf.validateAndAddDefaults())
}
