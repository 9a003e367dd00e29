package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lodgekit/lodgekit/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditRecord is the task type delivering audit entries.
	TaskTypeAuditRecord = "audit:record"
)

// NewAuditRecordTask constructs an Asynq task carrying one audit entry.
func NewAuditRecordTask(entry audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRecord, data, asynq.Queue(QueueDefault)), nil
}

// NewAuditRecordHandler returns the worker-side handler that persists
// queued audit entries. A malformed payload is dropped rather than retried.
func NewAuditRecordHandler(writer audit.Recorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var entry audit.Entry
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			if logger != nil {
				logger.Warn("audit task: malformed payload", slog.Any("error", err))
			}
			return asynq.SkipRetry
		}
		return writer.Record(ctx, entry)
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueAuditRecord enqueues an audit entry for delivery.
func (c *Client) EnqueueAuditRecord(ctx context.Context, entry audit.Entry) (*asynq.TaskInfo, error) {
	task, err := NewAuditRecordTask(entry)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueRecorder implements audit.Recorder by enqueuing entries instead of
// writing them inline. Delivery failures surface to the caller, which logs
// and continues; the mutation that produced the entry is never rolled back.
type QueueRecorder struct {
	client *Client
}

// NewQueueRecorder wraps a jobs client as an audit recorder.
func NewQueueRecorder(client *Client) *QueueRecorder {
	return &QueueRecorder{client: client}
}

// Record enqueues the entry on the default queue.
func (r *QueueRecorder) Record(ctx context.Context, entry audit.Entry) error {
	_, err := r.client.EnqueueAuditRecord(ctx, entry)
	return err
}
