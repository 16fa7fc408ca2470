package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/pledgefund/pledged/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	// The database may still be coming up when we are; retry the ping with
	// backoff before giving up.
	ping := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	err = backoff.Retry(db.Ping, ping)
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "database ping failed")
	}

	for _, create := range []func(*sql.DB) error{
		createTriggerTables,
		createActorTables,
		createProfileTables,
		createPledgeTables,
		createExecutionTables,
		createTipTable,
	} {
		if err := create(db); err != nil {
			return nil, errors.Wrap(err, "schema migration failed")
		}
	}
	return db, nil
}

// createTriggerTables creates the trigger and trigger_executions tables.
// Cached counters default to zero and are only ever moved by relative
// deltas.
func createTriggerTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS triggers (
			id SERIAL PRIMARY KEY,
			trigger_id TEXT NOT NULL UNIQUE,
			key TEXT UNIQUE,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			outcomes JSONB NOT NULL DEFAULT '[]',
			max_split INTEGER NOT NULL DEFAULT 1,
			pledge_count INTEGER NOT NULL DEFAULT 0,
			total_pledged NUMERIC(10,2) NOT NULL DEFAULT 0,
			extra JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS trigger_executions (
			id SERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL UNIQUE,
			trigger_id TEXT NOT NULL UNIQUE REFERENCES triggers(trigger_id),
			action_time TIMESTAMP NOT NULL,
			cycle INTEGER NOT NULL,
			description TEXT,
			pledge_count INTEGER NOT NULL DEFAULT 0,
			pledge_count_with_contribs INTEGER NOT NULL DEFAULT 0,
			num_contributions INTEGER NOT NULL DEFAULT 0,
			total_contributions NUMERIC(10,2) NOT NULL DEFAULT 0,
			extra JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	logErr(err)
	return err
}

// createActorTables creates the actors, actions and recipients tables.
// Actions are frozen snapshots; the unique (execution_id, actor_id) pair
// means one action per actor per execution. Challenger recipient slots are
// unique per (office_sought, party).
func createActorTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS recipients (
			id SERIAL PRIMARY KEY,
			recipient_id TEXT NOT NULL UNIQUE,
			gateway_id TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			actor_id TEXT UNIQUE,
			office_sought TEXT,
			party TEXT,
			competitive BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (office_sought, party)
		);
		CREATE TABLE IF NOT EXISTS actors (
			id SERIAL PRIMARY KEY,
			actor_id TEXT NOT NULL UNIQUE,
			govtrack_id INTEGER UNIQUE,
			office TEXT UNIQUE,
			name_long TEXT NOT NULL,
			name_short TEXT NOT NULL,
			name_sort TEXT NOT NULL,
			party TEXT NOT NULL,
			title TEXT NOT NULL,
			challenger_id TEXT REFERENCES recipients(recipient_id),
			inactive_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS actions (
			id SERIAL PRIMARY KEY,
			action_id TEXT NOT NULL UNIQUE,
			execution_id TEXT NOT NULL REFERENCES trigger_executions(execution_id) ON DELETE CASCADE,
			actor_id TEXT NOT NULL REFERENCES actors(actor_id),
			action_time TIMESTAMP NOT NULL,
			outcome INTEGER,
			reason_for_no_outcome TEXT,
			name_long TEXT NOT NULL,
			name_short TEXT NOT NULL,
			name_sort TEXT NOT NULL,
			party TEXT NOT NULL,
			title TEXT NOT NULL,
			office TEXT,
			challenger_id TEXT REFERENCES recipients(recipient_id),
			total_contributions_for NUMERIC(10,2) NOT NULL DEFAULT 0,
			total_contributions_against NUMERIC(10,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (execution_id, actor_id)
		)
	`)
	logErr(err)
	return err
}

func createProfileTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS contributor_profiles (
			id SERIAL PRIMARY KEY,
			profile_id TEXT NOT NULL UNIQUE,
			cc_last_four TEXT,
			cc_number_hash TEXT,
			is_geocoded BOOLEAN NOT NULL DEFAULT FALSE,
			extra JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_cc_last_four ON contributor_profiles(cc_last_four)
	`)
	logErr(err)
	return err
}

// createPledgeTables creates the pledges and cancelled_pledges tables.
// One pledge per (trigger, user) and per (trigger, anonymous user).
func createPledgeTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pledges (
			id SERIAL PRIMARY KEY,
			pledge_id TEXT NOT NULL UNIQUE,
			user_id TEXT,
			anon_user_id TEXT,
			profile_id TEXT NOT NULL REFERENCES contributor_profiles(profile_id),
			trigger_id TEXT NOT NULL REFERENCES triggers(trigger_id),
			campaign_id TEXT,
			ref_code TEXT,
			status TEXT NOT NULL DEFAULT 'OPEN',
			algorithm INTEGER NOT NULL,
			made_after_trigger_execution BOOLEAN NOT NULL DEFAULT FALSE,
			desired_outcome INTEGER NOT NULL,
			amount NUMERIC(10,2) NOT NULL,
			incumb_challgr DOUBLE PRECISION NOT NULL DEFAULT 0,
			filter_party TEXT,
			filter_competitive BOOLEAN NOT NULL DEFAULT FALSE,
			tip_to_campaign_owner NUMERIC(10,2) NOT NULL DEFAULT 0,
			cc_last_four TEXT,
			email_confirmed_at TIMESTAMP,
			pre_execution_email_sent_at TIMESTAMP,
			post_execution_email_sent_at TIMESTAMP,
			extra JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (trigger_id, user_id),
			UNIQUE (trigger_id, anon_user_id)
		);
		CREATE TABLE IF NOT EXISTS cancelled_pledges (
			id SERIAL PRIMARY KEY,
			trigger_id TEXT NOT NULL,
			campaign_id TEXT,
			user_id TEXT,
			anon_user_id TEXT,
			pledge JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	logErr(err)
	return err
}

// createExecutionTables creates pledge_executions and contributions. The
// pledge foreign key deliberately has no cascade: deleting a pledge that
// has been executed must fail at the storage layer, even under direct
// database access.
func createExecutionTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pledge_executions (
			id SERIAL PRIMARY KEY,
			pledge_execution_id TEXT NOT NULL UNIQUE,
			pledge_id TEXT NOT NULL UNIQUE REFERENCES pledges(pledge_id) ON DELETE RESTRICT,
			trigger_execution_id TEXT NOT NULL REFERENCES trigger_executions(execution_id),
			problem TEXT NOT NULL DEFAULT 'NO_PROBLEM',
			charged NUMERIC(10,2) NOT NULL DEFAULT 0,
			fees NUMERIC(10,2) NOT NULL DEFAULT 0,
			district TEXT,
			extra JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS contributions (
			id SERIAL PRIMARY KEY,
			contribution_id TEXT NOT NULL UNIQUE,
			pledge_execution_id TEXT NOT NULL REFERENCES pledge_executions(pledge_execution_id),
			action_id TEXT NOT NULL REFERENCES actions(action_id),
			recipient_type TEXT NOT NULL,
			recipient_id TEXT NOT NULL REFERENCES recipients(recipient_id),
			amount NUMERIC(10,2) NOT NULL,
			gateway_ref TEXT,
			refunded_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (pledge_execution_id, action_id)
		)
	`)
	logErr(err)
	return err
}

func createTipTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tips (
			id SERIAL PRIMARY KEY,
			tip_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			profile_id TEXT NOT NULL REFERENCES contributor_profiles(profile_id),
			amount NUMERIC(10,2) NOT NULL,
			recipient_org_id TEXT NOT NULL,
			gateway_recipient_id TEXT NOT NULL,
			campaign_id TEXT,
			pledge_id TEXT NOT NULL UNIQUE REFERENCES pledges(pledge_id),
			ref_code TEXT,
			extra JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	logErr(err)
	return err
}

func logErr(err error) {
	if err != nil {
		log.Printf("Error creating tables: %v", err)
	}
}
