package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/noah-isme/club-approval-api/internal/models"
)

// TaskTypeApprovalEvent is the asynq task type carrying one NotificationEvent.
const TaskTypeApprovalEvent = "approval:event"

// Enqueuer is the subset of *asynq.Client used for publishing.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Config tunes task options.
type Config struct {
	Queue      string
	MaxRetry   int
	Timeout    time.Duration
	RetainTask time.Duration
}

// Publisher hands approval events to an asynq queue for an external mailer.
type Publisher struct {
	client Enqueuer
	cfg    Config
	logger *zap.Logger
}

// NewPublisher builds a Publisher on top of client.
func NewPublisher(client Enqueuer, cfg Config, logger *zap.Logger) *Publisher {
	if cfg.Queue == "" {
		cfg.Queue = "notifications"
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, cfg: cfg, logger: logger}
}

// Publish enqueues the event as a JSON task.
func (p *Publisher) Publish(ctx context.Context, event models.NotificationEvent) error {
	task, err := NewTask(event)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(p.cfg.Queue),
		asynq.MaxRetry(p.cfg.MaxRetry),
		asynq.Timeout(p.cfg.Timeout),
	}
	if p.cfg.RetainTask > 0 {
		opts = append(opts, asynq.Retention(p.cfg.RetainTask))
	}
	info, err := p.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	p.logger.Debug("notification queued",
		zap.String("kind", string(event.Kind)),
		zap.String("application_id", event.ApplicationID),
		zap.String("task_id", info.ID))
	return nil
}

// NewTask serialises event into an asynq task.
func NewTask(event models.NotificationEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return asynq.NewTask(TaskTypeApprovalEvent, data), nil
}

// Decode reads the event back out of a task.
func Decode(task *asynq.Task) (models.NotificationEvent, error) {
	var event models.NotificationEvent
	if task.Type() != TaskTypeApprovalEvent {
		return event, fmt.Errorf("unexpected task type %q", task.Type())
	}
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return event, fmt.Errorf("decode notification: %w: %v", asynq.SkipRetry, err)
	}
	return event, nil
}

// Sink delivers a decoded event, e.g. by sending mail.
type Sink func(ctx context.Context, event models.NotificationEvent) error

// NewHandler adapts a Sink to an asynq handler.
func NewHandler(sink Sink) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		event, err := Decode(task)
		if err != nil {
			return err
		}
		return sink(ctx, event)
	})
}

// LogSink writes events to the logger; it stands in for a mailer.
func LogSink(logger *zap.Logger) Sink {
	return func(ctx context.Context, event models.NotificationEvent) error {
		logger.Info("approval notification",
			zap.String("kind", string(event.Kind)),
			zap.String("category", string(event.Category)),
			zap.String("application_id", event.ApplicationID),
			zap.String("entity_id", event.EntityID),
			zap.String("actor_id", event.ActorID),
			zap.String("decision", string(event.Decision)))
		return nil
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements the notifier contract.
func (Nop) Publish(context.Context, models.NotificationEvent) error { return nil }
