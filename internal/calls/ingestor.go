package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/callsync/pkg/logging"
)

var ingestTracer = otel.Tracer("callsync.internal.calls")

// Scheduler starts background enrichment for a call id. Implementations
// must return quickly and must not tie the work to ctx's lifetime.
type Scheduler interface {
	Schedule(ctx context.Context, callID string) error
}

// IngestorOption customizes an Ingestor.
type IngestorOption func(*Ingestor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

// Ingestor applies call-status events to call records and hands terminal
// calls to the enrichment scheduler.
type Ingestor struct {
	store     Store
	lines     VoiceLineStore
	scheduler Scheduler
	validate  *validator.Validate
	logger    *logging.Logger
	now       func() time.Time
}

// NewIngestor wires an ingestor. store, lines and scheduler are required.
func NewIngestor(store Store, lines VoiceLineStore, scheduler Scheduler, logger *logging.Logger, opts ...IngestorOption) *Ingestor {
	if store == nil {
		panic("calls: store cannot be nil")
	}
	if lines == nil {
		panic("calls: voice line store cannot be nil")
	}
	if scheduler == nil {
		panic("calls: scheduler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	i := &Ingestor{
		store:     store,
		lines:     lines,
		scheduler: scheduler,
		validate:  validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// HandleStatusEvent records the event and, for completed calls or calls with
// a positive duration, schedules one enrichment run. Scheduling problems are
// logged, never returned.
func (i *Ingestor) HandleStatusEvent(ctx context.Context, ev StatusEvent) (Ack, error) {
	ctx, span := ingestTracer.Start(ctx, "calls.ingest")
	defer span.End()

	ev.CallID = strings.TrimSpace(ev.CallID)
	if err := i.validate.Struct(ev); err != nil {
		return Ack{}, ErrMissingCallID
	}
	status := MapStatus(ev.RawStatus)
	ack := Ack{CallID: ev.CallID, Status: status}
	span.SetAttributes(
		attribute.String("callsync.call_id", ev.CallID),
		attribute.String("callsync.call_status", string(status)),
	)
	logger := i.logger.ForCall(ev.CallID, "ingest")

	if _, err := i.store.GetByProviderID(ctx, ev.CallID); err != nil {
		if !errors.Is(err, ErrCallNotFound) {
			span.RecordError(err)
			return Ack{}, err
		}
		created, err := i.createRecord(ctx, ev)
		if err != nil {
			if !errors.Is(err, ErrVoiceLineNotFound) {
				span.RecordError(err)
			}
			return Ack{}, err
		}
		ack.Created = created
	}

	upd := LifecycleUpdate{Status: status, DurationSeconds: ev.DurationSeconds}
	if status == StatusCompleted {
		endedAt := i.now()
		upd.EndedAt = &endedAt
	}
	if err := i.store.UpdateLifecycle(ctx, ev.CallID, upd); err != nil {
		span.RecordError(err)
		return Ack{}, fmt.Errorf("calls: apply status: %w", err)
	}

	if shouldEnrich(status, ev.DurationSeconds) {
		if err := i.scheduler.Schedule(ctx, ev.CallID); err != nil {
			logger.Warn("enrichment not scheduled", "error", err)
		} else {
			ack.Scheduled = true
		}
	}

	logger.Info("call status recorded",
		"raw_status", ev.RawStatus,
		"status", status,
		"created", ack.Created,
		"scheduled", ack.Scheduled,
	)
	return ack, nil
}

func (i *Ingestor) createRecord(ctx context.Context, ev StatusEvent) (bool, error) {
	line, err := i.lines.FindByNumber(ctx, ev.To)
	if err != nil {
		if errors.Is(err, ErrVoiceLineNotFound) {
			i.logger.ForCall(ev.CallID, "ingest").Warn("no voice line for destination", "to", ev.To)
		}
		return false, err
	}
	_, created, err := i.store.CreateIfAbsent(ctx, &CallRecord{
		ProviderCallID: ev.CallID,
		VoiceLineID:    line.ID,
		AccountID:      line.AccountID,
		Status:         StatusInitiated,
		Direction:      ParseDirection(ev.Direction),
		FromNumber:     ev.From,
		ToNumber:       ev.To,
	})
	if err != nil {
		return false, err
	}
	return created, nil
}
