// Package windup is an in-process background job engine. It pulls jobs
// from a priority store and hands them to a supervised pool of workers.
//
// A queue owns one store and dispatches to one pool. Jobs are pushed to
// named priority levels; the queue offers the levels to the store either
// in declaration order (strict) or shuffled by weight, so a level of
// weight 10 is tried first about ten times as often as one of weight 1.
//
// windup supports these stores:
//   - memory, process-local and never blocking
//   - redis, one list per level
//   - rabbitmq, one AMQP queue per level
//
// # Example
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/BranchIntl/windup"
//		"github.com/BranchIntl/windup/registry"
//		"github.com/BranchIntl/windup/workers"
//	)
//
//	func main() {
//		handlers := workers.NewHandlers()
//		handlers.Register("email", newEmail)
//
//		reg := registry.New()
//		ctx := context.Background()
//
//		cfg := windup.DefaultConfig("mail")
//		cfg.Worker = workers.NewHandlerWorker(handlers)
//		cfg.Levels = []windup.LevelConfig{
//			{Name: "high", Weight: 10},
//			{Name: "low", Weight: 1, Default: true},
//		}
//
//		q, err := windup.NewQueue(ctx, reg, cfg)
//		if err != nil {
//			log.Fatal(err)
//		}
//		q.PushTo(ctx, workers.NewMessage("email", "welcome"), "high")
//
//		// Dispatch until SIGINT, SIGTERM or SIGQUIT
//		if err := windup.Run(ctx, reg); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Workers
//
// Any type with a Perform(ctx, *job.Job) method is a worker. A returned
// error fails the job and is reported to the caller. A panic crashes the
// worker; the pool replaces it in the same slot and keeps its size.
//
// To share a database pool or other resources between workers, close
// over them in the factory:
//
//	db := openDB()
//	cfg.Worker = func() pool.Worker {
//		return pool.WorkerFunc(func(ctx context.Context, j *job.Job) (any, error) {
//			return nil, db.Save(ctx, j.Payload)
//		})
//	}
//
// # Configuration
//
// Queues can also be described in YAML and loaded with LoadConfig:
//
//	logging:
//	  level: info
//	queues:
//	  - name: mail
//	    workers: 4
//	    store:
//	      type: redis
//	      url: redis://localhost:6379/0
//	    levels:
//	      - {name: high, weight: 10}
//	      - {name: low, weight: 1, default: true}
package windup
