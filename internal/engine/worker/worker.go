package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"chatrelay/internal/engine/auth"
	"chatrelay/internal/engine/graph"
	"chatrelay/internal/engine/normalize"
	"chatrelay/internal/platform/config"
	"chatrelay/internal/platform/models"
	"chatrelay/internal/platform/repositories"
)

// Worker drains the notification queue: claim, resolve a credential, fetch
// the resource, normalize, persist, mark done. One entry at a time; a failure
// never takes the batch or the loop down with it.
type Worker struct {
	queue       *repositories.NotificationRepository
	messages    *repositories.MessageRepository
	credentials *auth.Store
	client      *graph.Client
	cfg         config.WorkerConfig

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func New(queue *repositories.NotificationRepository, messages *repositories.MessageRepository, credentials *auth.Store, client *graph.Client, cfg config.WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Worker{
		queue:       queue,
		messages:    messages,
		credentials: credentials,
		client:      client,
		cfg:         cfg,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		log.Warn().Msg("worker already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.loop(ctx)
	log.Info().Msg("worker started")
}

// Stop asks the loop to finish its current entry and exit. If it has not
// exited within the shutdown timeout, in-flight calls are cancelled outright;
// an abandoned processing entry is reclaimed by the retry policy on the next
// run.
func (w *Worker) Stop() {
	if !w.running.Load() {
		return
	}
	close(w.stop)

	select {
	case <-w.done:
	case <-time.After(w.cfg.ShutdownTimeout):
		log.Warn().Msg("worker did not stop gracefully, cancelling")
		w.cancel()
		<-w.done
	}

	w.running.Store(false)
	log.Info().Msg("worker stopped")
}

func (w *Worker) Running() bool {
	return w.running.Load()
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	log.Info().Msg("worker loop started")

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		batch, err := w.queue.FetchPending(w.cfg.BatchSize)
		if err != nil {
			// Queue unreachable pauses the whole worker, it never crashes it.
			log.Error().Err(err).Msg("worker failed to fetch pending notifications")
			if !w.sleep(w.cfg.ErrorBackoff) {
				return
			}
			continue
		}

		if len(batch) == 0 {
			if !w.sleep(w.cfg.PollInterval) {
				return
			}
			continue
		}

		log.Info().Int("count", len(batch)).Msg("processing pending notifications")
		for _, notification := range batch {
			select {
			case <-w.stop:
				return
			default:
			}
			w.process(ctx, notification)
		}
	}
}

func (w *Worker) process(ctx context.Context, n *models.Notification) {
	claimed, err := w.queue.MarkProcessing(n.ID)
	if err != nil {
		log.Error().Err(err).Int64("notification_id", n.ID).Msg("failed to claim notification")
		return
	}
	if !claimed {
		// Someone else got there first.
		return
	}

	if err := w.handle(ctx, n); err != nil {
		log.Error().Err(err).Int64("notification_id", n.ID).Msg("notification processing failed")
		if markErr := w.queue.MarkFailed(n.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Int64("notification_id", n.ID).Msg("failed to record failure")
		}
		return
	}

	if err := w.queue.MarkDone(n.ID); err != nil {
		log.Error().Err(err).Int64("notification_id", n.ID).Msg("failed to mark notification done")
	}
}

func (w *Worker) handle(ctx context.Context, n *models.Notification) error {
	src := w.credentials.Resolve(n.CreatorID)

	raw, err := w.client.Fetch(ctx, n.Resource, src)
	if err != nil {
		return fmt.Errorf("fetch resource: %w", err)
	}

	var message map[string]interface{}
	if err := json.Unmarshal(raw, &message); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	normalized, err := normalize.Message(message)
	if err != nil {
		return fmt.Errorf("normalize message: %w", err)
	}

	normalizedJSON, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("encode normalized message: %w", err)
	}

	if _, err := w.messages.Save(normalized.MessageID, string(normalizedJSON), string(raw)); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	log.Info().
		Int64("notification_id", n.ID).
		Str("message_id", normalized.MessageID).
		Msg("notification processed")
	return nil
}

// sleep waits out an interval but wakes up immediately on stop. Returns false
// when the worker should exit.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stop:
		return false
	case <-timer.C:
		return true
	}
}
