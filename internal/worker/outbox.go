package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cartbroker/internal/domain"
	"cartbroker/internal/metrics"
	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TaskBatchUpdate = "batch_update"

// outboxPayload is persisted in OutboxTask.Payload as JSON.
type outboxPayload struct {
	Table   tables.Table        `json:"table"`
	Updates []tables.CellUpdate `json:"updates"`
}

// OutboxStore persists outbox tasks.
type OutboxStore interface {
	CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error
	GetDueOutboxTasks(ctx context.Context, now time.Time, limit int) ([]models.OutboxTask, error)
	GetOpenOutboxTasks(ctx context.Context, reservationID string) ([]models.OutboxTask, error)
	UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// AppliedFunc is called after a queued write reached the remote table.
type AppliedFunc func(ctx context.Context, reservationID string, t tables.Table, updates []tables.CellUpdate)

// OutboxWorker replays remote writes that failed after their outcome had
// already been announced to the user.
type OutboxWorker struct {
	store         OutboxStore
	gateway       domain.TableGateway
	redis         *redis.Client
	retryPolicy   RetryPolicy
	deadLetterKey string
	batchSize     int
	onApplied     AppliedFunc
	logger        *zerolog.Logger
}

// NewOutboxWorker builds a worker with sane defaults. redisClient is optional
// and only receives dead letters.
func NewOutboxWorker(store OutboxStore, gateway domain.TableGateway, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *OutboxWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 10
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Minute
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	l := logger.With().Str("component", "outbox").Logger()

	return &OutboxWorker{
		store:         store,
		gateway:       gateway,
		redis:         redisClient,
		retryPolicy:   retry,
		deadLetterKey: "outbox:deadletter",
		batchSize:     20,
		logger:        &l,
	}
}

// OnApplied registers the callback run after each successful replay.
func (w *OutboxWorker) OnApplied(fn AppliedFunc) {
	w.onApplied = fn
}

// EnqueueBatch persists a batch update for later replay.
func (w *OutboxWorker) EnqueueBatch(ctx context.Context, reservationID string, t tables.Table, updates []tables.CellUpdate) error {
	if len(updates) == 0 {
		return errors.New("outbox: empty batch")
	}
	raw, err := json.Marshal(outboxPayload{Table: t, Updates: updates})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.OutboxTask{
		TaskType:      TaskBatchUpdate,
		ReservationID: reservationID,
		Payload:       string(raw),
		Status:        models.TaskStatusPending,
	}
	if err := w.store.CreateOutboxTask(ctx, &task); err != nil {
		return fmt.Errorf("persist outbox task: %w", err)
	}
	metrics.IncOutbox("enqueued")
	w.logger.Warn().Int64("task_id", task.ID).Str("reservation_id", reservationID).Msg("remote write queued for replay")
	return nil
}

// HasQueued reports whether the reservation still has a write waiting for
// replay.
func (w *OutboxWorker) HasQueued(ctx context.Context, reservationID string) (bool, error) {
	open, err := w.store.GetOpenOutboxTasks(ctx, reservationID)
	if err != nil {
		return false, fmt.Errorf("lookup outbox: %w", err)
	}
	return len(open) > 0, nil
}

// ProcessDue replays every task due at now and returns how many reached the
// remote table.
func (w *OutboxWorker) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	tasks, err := w.store.GetDueOutboxTasks(ctx, now, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch due tasks: %w", err)
	}

	applied := 0
	for i := range tasks {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if w.processTask(ctx, &tasks[i], now) {
			applied++
		}
	}
	return applied, nil
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.OutboxTask, now time.Time) bool {
	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return false
	}

	if task.TaskType != TaskBatchUpdate {
		w.failTask(ctx, task, fmt.Errorf("unknown task type: %s", task.TaskType))
		return false
	}

	legal, err := w.stillLegal(ctx, payload)
	if err != nil {
		if !tables.IsTransient(err) {
			w.failTask(ctx, task, err)
			return false
		}
		w.retryOrFail(ctx, task, err, now)
		return false
	}
	if !legal {
		w.skipTask(ctx, task)
		return false
	}

	if err := w.gateway.BatchUpdate(ctx, payload.Table, payload.Updates); err != nil {
		if !tables.IsTransient(err) {
			w.failTask(ctx, task, err)
			return false
		}
		w.retryOrFail(ctx, task, err, now)
		return false
	}

	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	metrics.IncOutbox("completed")
	if w.onApplied != nil {
		w.onApplied(ctx, task.ReservationID, payload.Table, payload.Updates)
	}
	return true
}

// stillLegal re-reads the target row of a status write and reports whether
// the row may still move to the queued status. Rows the table no longer has
// are left to BatchUpdate, which reports them as not found.
func (w *OutboxWorker) stillLegal(ctx context.Context, payload outboxPayload) (bool, error) {
	var key, target string
	for _, u := range payload.Updates {
		if u.Column == tables.ColStatus {
			key, target = u.Key, u.Value
		}
	}
	if key == "" {
		return true, nil
	}
	next, err := models.ParseStatus(target)
	if err != nil {
		return false, tables.Permanent(fmt.Errorf("queued status: %w", err))
	}

	rows, err := w.gateway.ReadAll(ctx, payload.Table)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if !tables.KeyMatches(payload.Table, row.Key(payload.Table), key) {
			continue
		}
		current, err := models.ParseStatus(row[tables.ColStatus])
		if err != nil {
			return true, nil
		}
		return current == next || current.CanTransition(next), nil
	}
	return true, nil
}

func (w *OutboxWorker) skipTask(ctx context.Context, task *models.OutboxTask) {
	w.logger.Warn().Int64("task_id", task.ID).Str("reservation_id", task.ReservationID).Msg("queued write skipped, row status moved on")
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.TaskStatusSkipped, "status moved on", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark skipped")
	}
	metrics.IncOutbox("skipped")
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.OutboxTask, cause error, now time.Time) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := now.Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	metrics.IncOutbox("retry")
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.OutboxTask, cause error) {
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("reservation_id", task.ReservationID).Msg("outbox task failed")
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	metrics.IncOutbox("failed")
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (outboxPayload, error) {
	var payload outboxPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	if len(payload.Updates) == 0 {
		return payload, errors.New("no updates")
	}
	return payload, nil
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.OutboxTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
