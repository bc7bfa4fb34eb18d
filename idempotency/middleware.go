package idempotency

import (
	"context"
	"time"

	"github.com/freightopt/eventbus/events"
	"github.com/freightopt/eventbus/kafka"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is how long a handled event id is remembered.
const DefaultTTL = 24 * time.Hour

type Option func(*middleware)

func WithLogger(logger *logrus.Entry) Option {
	return func(m *middleware) { m.logger = logger }
}

type middleware struct {
	store     Store
	namespace string
	ttl       time.Duration
	logger    *logrus.Entry
}

// Middleware skips events whose id was already handled under namespace.
// The claim is released when the handler fails so a redelivery or a replay
// from the dead-letter topic is handled again. When the store is down events
// are handled anyway.
func Middleware(store Store, namespace string, ttl time.Duration, opts ...Option) func(kafka.Handler) kafka.Handler {
	m := &middleware{
		store:     store,
		namespace: namespace,
		ttl:       ttl,
		logger:    logrus.NewEntry(logrus.StandardLogger()),
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	for _, o := range opts {
		o(m)
	}

	return func(next kafka.Handler) kafka.Handler {
		return func(ctx context.Context, evt *events.Event) error {
			if evt.Metadata.EventID == "" {
				return next(ctx, evt)
			}

			key := m.key(evt)
			logger := m.logger.WithFields(logrus.Fields{"key": key, "event_type": evt.Type()})

			claimed, err := m.store.Claim(ctx, key, m.ttl)
			if err != nil {
				logger.WithError(err).Warn("idempotency store unavailable, handling anyway")
				return next(ctx, evt)
			}
			if !claimed {
				logger.Debug("duplicate event skipped")
				return nil
			}

			handled := false
			defer func() {
				if handled {
					return
				}
				// failed or panicked
				if rerr := m.store.Release(ctx, key); rerr != nil {
					logger.WithError(rerr).Warn("failed to release idempotency claim")
				}
			}()

			if err := next(ctx, evt); err != nil {
				return err
			}
			handled = true
			return nil
		}
	}
}

func (m *middleware) key(evt *events.Event) string {
	if m.namespace == "" {
		return evt.Metadata.EventID
	}
	return m.namespace + ":" + evt.Metadata.EventID
}
