// pkg/queue/queue.go
package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sort"
    "time"

    "github.com/hibiken/asynq"

    "github.com/feichai0017/casefolio/pkg/logger"
)

// TaskType 定义任务类型
const (
    TaskTypeDocumentProcess = "document:process"
    TaskTypeCaseReanalyze   = "case:reanalyze"
    TaskTypePurgeJobs       = "maintenance:purge_jobs"
)

const (
    QueueCritical = "critical"
    QueueDefault  = "default"
    QueueLow      = "low"
)

// Priority selects the asynq queue a task lands in
const (
    PriorityHigh   = 1
    PriorityNormal = 2
    PriorityLow    = 3
)

// Queues are the weighted queues a worker serves.
var Queues = map[string]int{
    QueueCritical: 6,
    QueueDefault:  3,
    QueueLow:      1,
}

// Queue 接口定义
type Queue interface {
    Enqueue(ctx context.Context, taskType, jobID string, priority int) error
    // Cancel removes a task that has not started yet. removed is false when the task is already running or gone.
    Cancel(ctx context.Context, jobID string) (removed bool, err error)
    // ListActive returns the tasks workers are executing right now
    ListActive(ctx context.Context) ([]ActiveTask, error)
    Close() error
}

// ActiveTask is a task currently held by a worker.
type ActiveTask struct {
    JobID   string `json:"job_id"`
    Type    string `json:"type"`
    Queue   string `json:"queue"`
    Retried int    `json:"retried"`
}

// JobPayload is the body of every job task; the job itself lives in the job store
type JobPayload struct {
    JobID string `json:"job_id"`
}

// QueueConfig 定义队列配置
type QueueConfig struct {
    RedisAddr      string
    RedisPassword  string
    RedisDB        int
    MaxRetries     int
    ProcessTimeout time.Duration
    // Retention keeps finished tasks around so a duplicate enqueue of the same job id is rejected
    Retention time.Duration
}

func DefaultQueueConfig() QueueConfig {
    return QueueConfig{
        RedisAddr:      "localhost:6379",
        MaxRetries:     3,
        ProcessTimeout: 30 * time.Minute,
        Retention:      24 * time.Hour,
    }
}

// RedisOpt 返回 asynq 的 Redis 连接配置
func (c QueueConfig) RedisOpt() asynq.RedisClientOpt {
    return asynq.RedisClientOpt{
        Addr:     c.RedisAddr,
        Password: c.RedisPassword,
        DB:       c.RedisDB,
    }
}

// AsynqQueue 实现
type AsynqQueue struct {
    client    *asynq.Client
    inspector *asynq.Inspector
    config    QueueConfig
    logger    logger.Logger
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg QueueConfig, log logger.Logger) *AsynqQueue {
    redisOpt := cfg.RedisOpt()
    return &AsynqQueue{
        client:    asynq.NewClient(redisOpt),
        inspector: asynq.NewInspector(redisOpt),
        config:    cfg,
        logger:    log.Named("queue"),
    }
}

// NewTask builds the asynq task for a job. The task id is the job id.
func NewTask(taskType, jobID string, priority int, cfg QueueConfig) (*asynq.Task, error) {
    if jobID == "" {
        return nil, errors.New("job id is required")
    }
    payload, err := json.Marshal(JobPayload{JobID: jobID})
    if err != nil {
        return nil, fmt.Errorf("failed to marshal task: %w", err)
    }

    opts := []asynq.Option{
        asynq.TaskID(jobID),
        asynq.MaxRetry(cfg.MaxRetries),
        asynq.Queue(queueFor(priority)),
    }
    if cfg.ProcessTimeout > 0 {
        opts = append(opts, asynq.Timeout(cfg.ProcessTimeout))
    }
    if cfg.Retention > 0 {
        opts = append(opts, asynq.Retention(cfg.Retention))
    }
    return asynq.NewTask(taskType, payload, opts...), nil
}

// DecodePayload reads the job id carried by t.
func DecodePayload(t *asynq.Task) (JobPayload, error) {
    var p JobPayload
    if err := json.Unmarshal(t.Payload(), &p); err != nil {
        return p, fmt.Errorf("failed to unmarshal task: %w", err)
    }
    if p.JobID == "" {
        return p, errors.New("invalid task data: missing job_id")
    }
    return p, nil
}

// 根据优先选择队列
func queueFor(priority int) string {
    switch priority {
    case PriorityHigh:
        return QueueCritical
    case PriorityNormal:
        return QueueDefault
    default:
        return QueueLow
    }
}

// Enqueue 将任务加入队列. Enqueueing a job that is already queued is a no-op.
func (q *AsynqQueue) Enqueue(ctx context.Context, taskType, jobID string, priority int) error {
    t, err := NewTask(taskType, jobID, priority, q.config)
    if err != nil {
        return err
    }

    info, err := q.client.EnqueueContext(ctx, t)
    if errors.Is(err, asynq.ErrTaskIDConflict) {
        q.logger.Info("Task already queued", logger.String("job_id", jobID))
        return nil
    }
    if err != nil {
        return fmt.Errorf("failed to enqueue task: %w", err)
    }

    q.logger.Info("Task enqueued",
        logger.String("job_id", jobID),
        logger.String("type", taskType),
        logger.String("queue", info.Queue),
    )
    return nil
}

// Cancel 取消尚未开始的任务
func (q *AsynqQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
    for queueName := range Queues {
        if err := ctx.Err(); err != nil {
            return false, err
        }
        info, err := q.inspector.GetTaskInfo(queueName, jobID)
        if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
            continue
        }
        if err != nil {
            return false, fmt.Errorf("failed to inspect task: %w", err)
        }

        switch info.State {
        case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
            if err := q.inspector.DeleteTask(queueName, jobID); err != nil {
                if errors.Is(err, asynq.ErrTaskNotFound) {
                    return false, nil
                }
                return false, fmt.Errorf("failed to cancel task: %w", err)
            }
            q.logger.Info("Task removed from queue", logger.String("job_id", jobID), logger.String("queue", queueName))
            return true, nil
        default:
            // active tasks observe the job's cancel flag at the next stage boundary
            return false, nil
        }
    }
    return false, nil
}

// ListActive 列出正在执行的任务
func (q *AsynqQueue) ListActive(ctx context.Context) ([]ActiveTask, error) {
    var active []ActiveTask
    for _, queueName := range sortedQueues() {
        if err := ctx.Err(); err != nil {
            return nil, err
        }
        infos, err := q.inspector.ListActiveTasks(queueName)
        if errors.Is(err, asynq.ErrQueueNotFound) {
            continue
        }
        if err != nil {
            return nil, fmt.Errorf("failed to list active tasks: %w", err)
        }
        active = append(active, activeTasks(infos, q.logger)...)
    }
    return active, nil
}

// activeTasks keeps the infos whose payload names a job.
func activeTasks(infos []*asynq.TaskInfo, log logger.Logger) []ActiveTask {
    tasks := make([]ActiveTask, 0, len(infos))
    for _, info := range infos {
        p, err := DecodePayload(asynq.NewTask(info.Type, info.Payload))
        if err != nil {
            log.Warn("Skipping active task without job", logger.String("task_id", info.ID), logger.Error(err))
            continue
        }
        tasks = append(tasks, ActiveTask{JobID: p.JobID, Type: info.Type, Queue: info.Queue, Retried: info.Retried})
    }
    return tasks
}

// sortedQueues lists queue names by descending weight.
func sortedQueues() []string {
    names := make([]string, 0, len(Queues))
    for name := range Queues {
        names = append(names, name)
    }
    sort.Slice(names, func(i, j int) bool { return Queues[names[i]] > Queues[names[j]] })
    return names
}

func (q *AsynqQueue) Close() error {
    if err := q.inspector.Close(); err != nil {
        q.logger.Warn("Failed to close inspector", logger.Error(err))
    }
    return q.client.Close()
}
