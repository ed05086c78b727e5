package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder accepts audit events. Recording never fails the caller: the
// state change an event describes has already happened.
type Recorder interface {
	Record(ctx context.Context, e *Event)
}

// DefaultRecordTimeout bounds how long Record spends persisting and
// publishing one event.
const DefaultRecordTimeout = 5 * time.Second

// Sink persists events and optionally fans them out to a Publisher.
type Sink struct {
	repo      Repository
	publisher Publisher
	logger    zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewSink builds a Sink. publisher may be nil.
func NewSink(repo Repository, publisher Publisher, logger zerolog.Logger) *Sink {
	return &Sink{repo: repo, publisher: publisher, logger: logger, timeout: DefaultRecordTimeout, now: time.Now}
}

// Record persists e and hands it to the publisher. Events describe changes
// that already committed, so a cancelled request context does not stop them.
func (s *Sink) Record(ctx context.Context, e *Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}

	log := s.logger.With().
		Str("event_id", e.ID.String()).
		Str("entity_type", string(e.EntityType)).
		Str("entity_id", e.EntityID).
		Str("action", string(e.ActionType)).
		Logger()

	if err := s.repo.Append(ctx, e); err != nil {
		log.Error().Err(err).Msg("audit event not persisted")
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, e); err != nil {
			log.Error().Err(err).Msg("audit event not published")
		}
	}
	log.Debug().Msg("audit event recorded")
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, *Event) {}
