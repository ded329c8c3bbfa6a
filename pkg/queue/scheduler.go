package queue

import (
    "fmt"
    "time"

    "github.com/hibiken/asynq"

    "github.com/feichai0017/casefolio/pkg/logger"
)

// NewPurgeScheduler registers the periodic job purge task.
func NewPurgeScheduler(cfg QueueConfig, every time.Duration, log logger.Logger) (*asynq.Scheduler, error) {
    if every <= 0 {
        return nil, fmt.Errorf("invalid purge interval: %s", every)
    }
    log = log.Named("scheduler")
    scheduler := asynq.NewScheduler(cfg.RedisOpt(), &asynq.SchedulerOpts{
        Location: time.UTC,
        PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
            if err != nil {
                log.Error("Failed to enqueue periodic task", logger.Error(err))
            }
        },
    })

    cronspec := "@every " + every.String()
    entryID, err := scheduler.Register(cronspec, asynq.NewTask(TaskTypePurgeJobs, nil), asynq.Queue(QueueLow), asynq.MaxRetry(1))
    if err != nil {
        return nil, fmt.Errorf("failed to register purge task: %w", err)
    }
    log.Info("Registered purge task", logger.String("entry", entryID), logger.String("cronspec", cronspec))
    return scheduler, nil
}
