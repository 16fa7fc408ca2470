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
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/pledgefund/pledged"
	"github.com/pledgefund/pledged/config"
	"github.com/pledgefund/pledged/internal/apierror"
	redis_db "github.com/pledgefund/pledged/internal/redis-db"
)

// scanQueue carries the periodic task that sweeps for executable pledges
// and fans them out onto the batch queue.
const scanQueue = "pledge:scan"

// executePledge settles one pledge from the batch queue. NotExecutable is
// the expected skip case; non-retryable failures are dropped rather than
// retried forever.
func (b *pledgedInstance) executePledge(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("pledged.worker").Start(ctx, "Execute Pledge From Queue")
	defer span.End()

	var payload pledged.ExecutePledgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	_, err := b.pledged.ExecutePledge(ctx, payload.PledgeID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotExecutable) {
			log.Printf(" [*] Pledge %s not executable yet, skipping", payload.PledgeID)
			return nil
		}
		if !apierror.Retryable(err) {
			logrus.Errorf("pledge %s failed terminally: %v", payload.PledgeID, err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logrus.Infof("Pledge %s pushed back for retry due to error: %v", payload.PledgeID, err)
		return err
	}

	log.Println(" [*] Pledge Executed", payload.PledgeID)
	return nil
}

// scanPledges runs the batch sweep: every open pledge of an executed
// trigger gets its own task on the batch queue.
func (b *pledgedInstance) scanPledges(ctx context.Context, _ *asynq.Task) error {
	queued, err := b.pledged.EnqueueExecutablePledges(ctx)
	if err != nil {
		return err
	}
	log.Printf(" [*] Batch scan queued %d pledges", queued)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	return map[string]int{
		cfg.Queue.BatchQueue: 3,
		scanQueue:            1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			Concurrency: 5,
			Queues:      queues,
		},
	), nil
}

// initializeScheduler registers the periodic batch sweep.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		nil,
	)

	task := asynq.NewTask(scanQueue, nil, asynq.Queue(scanQueue), asynq.TaskID("pledge-scan"))
	_, err = scheduler.Register(fmt.Sprintf("@every %dm", conf.Queue.BatchIntervalMin), task)
	if err != nil {
		return nil, fmt.Errorf("error registering batch scan: %v", err)
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command: the asynq server consuming
// the batch queues plus the scheduler driving the periodic sweep.
func workerCommands(b *pledgedInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start pledged workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error fetching config: %v", err)
			}

			queues := initializeQueues()
			server, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatalf("Error initializing worker server: %v", err)
			}

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatalf("Error initializing scheduler: %v", err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("Error running scheduler: %v", err)
				}
			}()

			mux := asynq.NewServeMux()
			mux.HandleFunc(conf.Queue.BatchQueue, b.executePledge)
			mux.HandleFunc(scanQueue, b.scanPledges)

			if err := server.Run(mux); err != nil {
				log.Fatalf("Error running worker server: %v", err)
			}
		},
	}
	return cmd
}
