package shopify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/logfield"
)

// BulkOperationStore tracks the operation a runner believes is active. It is
// created per run and torn down with it, never shared process-wide.
type BulkOperationStore interface {
	Current() (model.BulkOperation, bool)
	Set(model.BulkOperation)
	Clear()
}

type MemoryStore struct {
	mu sync.Mutex
	op *model.BulkOperation
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Current() (model.BulkOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.op == nil {
		return model.BulkOperation{}, false
	}
	return *s.op, true
}

func (s *MemoryStore) Set(op model.BulkOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.op = &op
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.op = nil
}

var errStillRunning = errors.New("bulk operation still running")

// Runner drives the provider-side bulk export job through its lifecycle:
// start, poll to completion, cancel. At most one operation may be active per
// provider account; Start enforces that, Reset clears the way.
type Runner struct {
	gql   *graphqlClient
	store BulkOperationStore
	log   logger.Logger
	now   func() time.Time

	config struct {
		pollInterval    time.Duration
		maxPollAttempts int
		staleAfter      time.Duration
		cancelSettle    time.Duration
	}
}

func NewRunner(gql *graphqlClient, store BulkOperationStore, conf *config.Config, log logger.Logger) *Runner {
	r := &Runner{
		gql:   gql,
		store: store,
		log:   log.Child("bulk"),
		now:   time.Now,
	}
	r.config.pollInterval = conf.GetDuration("Shopify.bulk.pollInterval", 5, time.Second)
	r.config.maxPollAttempts = conf.GetInt("Shopify.bulk.maxPollAttempts", 60)
	r.config.staleAfter = conf.GetDuration("Shopify.bulk.staleAfter", 12, time.Hour)
	r.config.cancelSettle = conf.GetDuration("Shopify.bulk.cancelSettle", 2, time.Second)
	return r
}

// Start creates a new bulk export. It refuses while one is already running;
// callers that want to preempt a prior operation call Reset first.
func (r *Runner) Start(ctx context.Context) (model.BulkOperation, error) {
	if current, err := r.Poll(ctx); err != nil {
		return model.BulkOperation{}, err
	} else if current != nil && current.Status == model.BulkStatusRunning {
		return model.BulkOperation{}, fmt.Errorf("operation %s: %w", current.ID, model.ErrOperationAlreadyRunning)
	}

	data, err := r.gql.request(ctx, bulkExportMutation)
	if err != nil {
		return model.BulkOperation{}, fmt.Errorf("starting bulk operation: %w", err)
	}
	payload := data.Get("bulkOperationRunQuery")
	if userErrs := payload.Get("userErrors").Array(); len(userErrs) > 0 {
		return model.BulkOperation{}, fmt.Errorf("starting bulk operation: %s", userErrs[0].Get("message").String())
	}

	op := parseOperation(payload.Get("bulkOperation"), r.now())
	if op.ID == "" {
		return model.BulkOperation{}, errors.New("no bulk operation was created")
	}
	r.store.Set(op)

	r.log.Infow("started bulk operation",
		logfield.OperationID, op.ID,
		logfield.Status, op.Status,
	)
	return op, nil
}

// Poll queries the provider's current operation. A nil result means nothing
// is active: either the provider reports none, or the last one completed
// longer ago than the staleness window and should be replaced.
func (r *Runner) Poll(ctx context.Context) (*model.BulkOperation, error) {
	data, err := r.gql.request(ctx, currentBulkOperationQuery)
	if err != nil {
		return nil, fmt.Errorf("polling bulk operation: %w", err)
	}
	current := data.Get("currentBulkOperation")
	if !current.Exists() || current.Type == gjson.Null {
		r.store.Clear()
		return nil, nil
	}

	op := parseOperation(current, r.now())
	if op.Status == model.BulkStatusCompleted && r.now().Sub(op.CreatedAt) > r.config.staleAfter {
		r.log.Infow("bulk operation is stale",
			logfield.OperationID, op.ID,
			"createdAt", op.CreatedAt,
		)
		r.store.Clear()
		return nil, nil
	}

	r.store.Set(op)
	return &op, nil
}

// Wait polls on a fixed cadence until the operation reaches a terminal
// state. Exceeding the attempt budget raises ErrOperationTimeout; FAILED and
// CANCELED are surfaced as errors.
func (r *Runner) Wait(ctx context.Context) (model.BulkOperation, error) {
	var result model.BulkOperation

	poll := func() error {
		op, err := r.Poll(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if op == nil {
			return backoff.Permanent(errors.New("no bulk operation found"))
		}
		switch op.Status {
		case model.BulkStatusCompleted:
			if op.URL == "" {
				return backoff.Permanent(fmt.Errorf("bulk operation %s completed without a result URL", op.ID))
			}
			result = *op
			return nil
		case model.BulkStatusFailed:
			return backoff.Permanent(fmt.Errorf("bulk operation %s failed", op.ID))
		case model.BulkStatusCanceled:
			return backoff.Permanent(fmt.Errorf("bulk operation %s was canceled", op.ID))
		default:
			return errStillRunning
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(r.config.pollInterval),
			uint64(r.config.maxPollAttempts),
		),
		ctx,
	)
	if err := backoff.Retry(poll, policy); err != nil {
		if errors.Is(err, errStillRunning) {
			return model.BulkOperation{}, fmt.Errorf("after %d attempts: %w", r.config.maxPollAttempts, model.ErrOperationTimeout)
		}
		return model.BulkOperation{}, err
	}
	return result, nil
}

// Reset cancels whatever operation is in the way of a fresh start: a RUNNING
// one is actively canceled, terminal ones are dropped from the store. After
// a cancel the provider needs a brief settle before accepting a new start.
func (r *Runner) Reset(ctx context.Context) error {
	current, err := r.Poll(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if current.Status.Terminal() {
		r.store.Clear()
		return nil
	}
	return r.Cancel(ctx)
}

// Cancel cancels the active operation. It is an idempotent no-op when the
// store tracks none.
func (r *Runner) Cancel(ctx context.Context) error {
	current, ok := r.store.Current()
	if !ok {
		return nil
	}

	data, err := r.gql.request(ctx, cancelBulkOperationMutation)
	if err != nil {
		return fmt.Errorf("canceling bulk operation: %w", err)
	}
	if userErrs := data.Get("bulkOperationCancel.userErrors").Array(); len(userErrs) > 0 {
		return fmt.Errorf("canceling bulk operation: %s", userErrs[0].Get("message").String())
	}
	r.store.Clear()

	r.log.Infow("canceled bulk operation", logfield.OperationID, current.ID)

	select {
	case <-time.After(r.config.cancelSettle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func parseOperation(result gjson.Result, now time.Time) model.BulkOperation {
	createdAt := now
	if raw := result.Get("createdAt").String(); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			createdAt = parsed
		}
	}
	return model.BulkOperation{
		ID:          result.Get("id").String(),
		Status:      model.BulkStatus(result.Get("status").String()),
		URL:         result.Get("url").String(),
		CreatedAt:   createdAt,
		ObjectCount: result.Get("objectCount").Int(),
	}
}
