package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	eventsdomain "github.com/smallbiznis/creditflow/internal/events/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	dispatchBatchSize = 50
	dispatchInterval  = 2 * time.Second
)

// Handler consumes a dispatched event. Returning an error leaves the outbox
// row unpublished so the event is redelivered; handlers must tolerate that.
type Handler func(ctx context.Context, event Event) error

// Outbox persists events in the same transaction as the state change that
// produced them and dispatches them to in-process subscribers at least once.
type Outbox struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	mu       sync.RWMutex
	handlers map[string][]Handler

	nudge chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewOutbox(db *gorm.DB, log *zap.Logger, genID *snowflake.Node) *Outbox {
	return &Outbox{
		db:       db,
		log:      log.Named("events.outbox"),
		genID:    genID,
		handlers: make(map[string][]Handler),
		nudge:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for an event type. Must be called before Start.
func (o *Outbox) Subscribe(eventType string, handler Handler) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || handler == nil {
		return
	}
	o.mu.Lock()
	o.handlers[eventType] = append(o.handlers[eventType], handler)
	o.mu.Unlock()
}

// PublishTx appends the event inside the caller's transaction so the event and
// the state change commit or roll back together.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.insert(ctx, tx, event)
}

// Publish appends the event outside any transaction and nudges the dispatcher.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	if err := o.insert(ctx, o.db, event); err != nil {
		return err
	}
	o.Nudge()
	return nil
}

// Nudge wakes the dispatcher without waiting for the poll interval.
func (o *Outbox) Nudge() {
	select {
	case o.nudge <- struct{}{}:
	default:
	}
}

func (o *Outbox) insert(ctx context.Context, db *gorm.DB, event Event) error {
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return errors.New("missing_event_type")
	}

	record := eventsdomain.OutboxEvent{
		ID:        o.genID.Generate(),
		OrgID:     event.OrgID,
		EventType: eventType,
		Payload:   datatypes.JSONMap(event.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		record.DedupeKey = &key
	}

	query := `INSERT INTO outbox_events (
		id, org_id, event_type, payload, dedupe_key, published, attempts, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if record.DedupeKey != nil {
		query += " ON CONFLICT (org_id, dedupe_key) DO NOTHING"
	}

	return db.WithContext(ctx).Exec(
		query,
		record.ID,
		record.OrgID,
		record.EventType,
		record.Payload,
		record.DedupeKey,
		false,
		0,
		record.CreatedAt,
	).Error
}

// Start launches the dispatch loop. Stop blocks until in-flight dispatch ends.
func (o *Outbox) Start() {
	o.wg.Add(1)
	go o.run()
}

func (o *Outbox) Stop() {
	close(o.done)
	o.wg.Wait()
}

func (o *Outbox) run() {
	defer o.wg.Done()
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
		case <-o.nudge:
		}
		o.DispatchPending(context.Background())
	}
}

// DispatchPending delivers unpublished events to their subscribers. A row is
// marked published only after every handler for its type returned nil, so a
// failing subscriber sees the event again on the next pass.
func (o *Outbox) DispatchPending(ctx context.Context) {
	var pending []eventsdomain.OutboxEvent
	err := o.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id").
		Limit(dispatchBatchSize).
		Find(&pending).Error
	if err != nil {
		o.log.Warn("failed to load pending events", zap.Error(err))
		return
	}

	for _, record := range pending {
		if ctx.Err() != nil {
			return
		}
		o.dispatchOne(ctx, record)
	}
}

func (o *Outbox) dispatchOne(ctx context.Context, record eventsdomain.OutboxEvent) {
	o.mu.RLock()
	handlers := o.handlers[record.EventType]
	o.mu.RUnlock()

	event := Event{
		OrgID:   record.OrgID,
		Type:    record.EventType,
		Payload: map[string]any(record.Payload),
	}
	if record.DedupeKey != nil {
		event.DedupeKey = *record.DedupeKey
	}

	delivered := true
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			delivered = false
			o.log.Warn("event handler failed",
				zap.String("event_type", record.EventType),
				zap.String("event_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}

	if !delivered {
		if err := o.db.WithContext(ctx).Model(&eventsdomain.OutboxEvent{}).
			Where("id = ?", record.ID).
			UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			o.log.Warn("failed to bump event attempts", zap.Error(err))
		}
		return
	}

	now := time.Now().UTC()
	if err := o.db.WithContext(ctx).Model(&eventsdomain.OutboxEvent{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"published":    true,
			"published_at": now,
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error; err != nil {
		o.log.Warn("failed to mark event published", zap.Error(err))
	}
}
