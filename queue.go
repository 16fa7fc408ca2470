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
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/pledgefund/pledged/config"
	redis_db "github.com/pledgefund/pledged/internal/redis-db"
)

// Queue hands pledge executions off to the batch workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// ExecutePledgePayload is the task payload for one pledge execution.
type ExecutePledgePayload struct {
	PledgeID string `json:"pledge_id"`
}

// NewQueue initializes the queue client from the configured Redis instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueExecutePledge enqueues one pledge for settlement. The task id is the
// pledge id, so a pledge is never queued twice while a prior task for it is
// still pending.
func (q *Queue) queueExecutePledge(ctx context.Context, pledgeID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(ExecutePledgePayload{PledgeID: pledgeID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(pledgeID),
		asynq.Queue(cfg.Queue.BatchQueue),
	}
	task := asynq.NewTask(cfg.Queue.BatchQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if err == asynq.ErrTaskIDConflict || err == asynq.ErrDuplicateTask {
			return nil
		}
		log.Println(err, info)
		return err
	}
	return nil
}

// EnqueueExecutablePledges is the periodic batch scan: every open pledge of
// an executed trigger is queued for settlement. Eligibility is re-checked
// under lock when the worker runs, so queueing an ineligible pledge is
// harmless.
func (p *Pledged) EnqueueExecutablePledges(ctx context.Context) (int, error) {
	pledges, err := p.datasource.ListOpenPledgesForExecutedTriggers(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, pledge := range pledges {
		if err := p.queue.queueExecutePledge(ctx, pledge.PledgeID); err != nil {
			log.Printf("failed to enqueue pledge %s: %v", pledge.PledgeID, err)
			continue
		}
		queued++
	}
	return queued, nil
}
