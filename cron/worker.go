package cron

import (
	"context"
	"log"
	"time"

	"paylane/config"
	"paylane/database/repository/ledger"
	"paylane/services/reconcile"
	"paylane/services/subscription"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
)

const (
	TypeReconcileSweep = "reconcile:sweep"
	TypeTrialSweep     = "subscription:trial_sweep"
	TypeLedgerPrune    = "ledger:prune"
)

// InitSweepWorker runs the background worker and its schedule: the
// reconciliation pass on the configured interval, the trial sweep hourly,
// and the ledger prune daily.
func InitSweepWorker(sweeper *reconcile.Sweeper, subs subscription.Service, ledger ledgerRepo.LedgerRepository) {
	redisOpts := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReconcileSweep, handleReconcileSweep(sweeper))
	mux.HandleFunc(TypeTrialSweep, handleTrialSweep(subs))
	mux.HandleFunc(TypeLedgerPrune, handleLedgerPrune(ledger))

	go monitorRedisConnection()
	go runScheduler(redisOpts)

	// Start async worker with retry logic
	go func() {
		log.Println("[SweepWorker] 🚀 Starting async worker...")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				log.Printf("[SweepWorker] ❌ Attempt %d/%d failed to start worker: %v", attempts, maxAttempts, err)

				if attempts == maxAttempts {
					log.Fatal("[SweepWorker] ❗ Max retry attempts reached. Exiting.")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second) // Exponential backoff
			} else {
				break
			}
		}
	}()
}

func runScheduler(redisOpts asynq.RedisClientOpt) {
	scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{})

	entries := []struct {
		spec string
		task *asynq.Task
	}{
		{config.AppConfig.ReconcileInterval, asynq.NewTask(TypeReconcileSweep, nil)},
		{"@every 1h", asynq.NewTask(TypeTrialSweep, nil)},
		{"@daily", asynq.NewTask(TypeLedgerPrune, nil)},
	}
	for _, e := range entries {
		if _, err := scheduler.Register(e.spec, e.task); err != nil {
			log.Fatalf("[SweepWorker] ❗ Failed to register %s: %v", e.task.Type(), err)
		}
	}

	if err := scheduler.Run(); err != nil {
		log.Fatalf("[SweepWorker] ❗ Scheduler failed: %v", err)
	}
}

func handleReconcileSweep(sweeper *reconcile.Sweeper) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		log.Println("[ReconcileSweep] 🔄 Running reconciliation pass...")
		if err := sweeper.Run(ctx, time.Now()); err != nil {
			log.Printf("[ReconcileSweep] ❌ Pass failed: %v", err)
			return err
		}
		return nil
	}
}

func handleTrialSweep(subs subscription.Service) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		log.Println("[TrialSweep] ⏰ Checking ended trials...")
		if err := subs.SweepTrials(ctx, time.Now()); err != nil {
			log.Printf("[TrialSweep] ❌ Sweep failed: %v", err)
			return err
		}
		return nil
	}
}

func handleLedgerPrune(ledger ledgerRepo.LedgerRepository) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		cutoff := time.Now().AddDate(0, 0, -config.AppConfig.LedgerRetentionDays)
		removed, err := ledger.Prune(ctx, cutoff)
		if err != nil {
			log.Printf("[LedgerPrune] ❌ Prune failed: %v", err)
			return err
		}
		log.Printf("[LedgerPrune] 🧹 Removed %d records older than %s", removed, cutoff.Format(time.RFC3339))
		return nil
	}
}

// monitorRedisConnection pings Redis periodically to detect failures at runtime.
func monitorRedisConnection() {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	})

	ctx := context.Background()

	for {
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[SweepWorker] ⚠️ Redis connection lost: %v", err)
		}
		time.Sleep(10 * time.Second)
	}
}
