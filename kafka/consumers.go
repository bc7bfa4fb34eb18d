package kafka

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"time"

	"github.com/freightopt/eventbus/errors"
	"github.com/freightopt/eventbus/events"
	"github.com/freightopt/eventbus/functional"
	"github.com/sirupsen/logrus"
)

// Handler processes one decoded event. A returned error (or a panic) sends
// the record to the dead-letter topic of its source.
type Handler func(ctx context.Context, evt *events.Event) error

// AnyEventType registers a handler for event types without their own handler
const AnyEventType = "*"

const (
	minFetchBackoff = 200 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

var errNoHandler = errors.New("kafka: no handler registered")

// RegisterHandler routes events of eventType to h. A later registration for
// the same type replaces the earlier one.
func (c *Client) RegisterHandler(eventType string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if _, ok := c.handlers[eventType]; ok {
		c.logger.WithField("event_type", eventType).Debug("replacing handler")
	}
	c.handlers[eventType] = h
}

func (c *Client) UnregisterHandler(eventType string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	delete(c.handlers, eventType)
}

func (c *Client) handler(eventType string) (Handler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()

	if h, ok := c.handlers[eventType]; ok {
		return h, true
	}
	h, ok := c.handlers[AnyEventType]
	return h, ok
}

// Subscription is one running consumption loop.
type Subscription struct {
	client *Client
	topics []string
	group  string
	reader Reader
	pool   *WorkerPool
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeErr error
}

func (s *Subscription) Topics() []string { return append([]string(nil), s.topics...) }

func (s *Subscription) Group() string { return s.group }

// Done is closed once the loop has stopped and its reader is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops the loop after the record in flight and waits for it, bounded
// by ctx.
func (s *Subscription) Close(ctx context.Context) error {
	s.cancel()
	s.client.removeSubscription(s)

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("kafka: stop subscription %s: %w", s.group, ctx.Err())
	}

	if s.closeErr != nil {
		return fmt.Errorf("kafka: close reader %s: %w", s.group, s.closeErr)
	}
	return nil
}

// Subscribe joins groupID on topics and starts a consumption loop. handlers
// are registered on the client before the loop starts. Cancelling ctx stops
// the loop like Close does.
func (c *Client) Subscribe(ctx context.Context, topics []string, groupID string, handlers map[string]Handler) (*Subscription, error) {
	const op = "kafka.subscribe"

	if s := c.State(); s != StateReady {
		return nil, errors.E(errors.KindServiceUnavailable, op, "client is %s", s)
	}

	topics = sanitizeTopics(topics)
	if len(topics) == 0 {
		return nil, errors.E(errors.KindValidation, op, "at least one topic is required")
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.E(errors.KindValidation, op, "consumer group is required")
	}
	groupID = sanitizeGroupID(groupID)

	for eventType, h := range handlers {
		c.RegisterHandler(eventType, h)
	}

	reader, err := c.driver.NewReader(ctx, topics, groupID)
	if err != nil {
		return nil, errors.WrapServiceUnavailable(op, err)
	}

	logger := c.logger.WithFields(logrus.Fields{
		"group":  groupID,
		"topics": strings.Join(topics, ","),
	})

	sub := &Subscription{
		client: c,
		topics: topics,
		group:  groupID,
		reader: reader,
		pool:   NewPool(groupID, c.cfg.MaxConcurrency, logger),
		logger: logger,
		done:   make(chan struct{}),
	}
	sub.ctx, sub.cancel = context.WithCancel(ctx)

	c.subsMu.Lock()
	if s := c.State(); s != StateReady {
		c.subsMu.Unlock()
		sub.cancel()
		_ = reader.Close()
		return nil, errors.E(errors.KindServiceUnavailable, op, "client is %s", s)
	}
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()

	go sub.run()

	logger.Info("subscribed")
	return sub, nil
}

// SubscribeRole subscribes the consumer group of role to the topics of
// categories, or to every category topic when none are given.
func (c *Client) SubscribeRole(ctx context.Context, role string, categories []events.Category, handlers map[string]Handler) (*Subscription, error) {
	if len(categories) == 0 {
		categories = events.Categories()
	}

	topics := functional.DeDup(functional.Map(categories, c.topics.ResolveCategory), func(t string) string { return t })
	return c.Subscribe(ctx, topics, c.groups.Resolve(role), handlers)
}

func (s *Subscription) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("consumer panic recovered: %v\n%s", r, debug.Stack())
		}
		s.closeErr = s.reader.Close()
		s.client.removeSubscription(s)
		s.logger.Debug("consumer stopped")
	}()

	backoff := minFetchBackoff

	for {
		if s.ctx.Err() != nil {
			return
		}

		recs, err := s.reader.Fetch(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}

			// exponential backoff with cap
			backoff = min(backoff*2, maxFetchBackoff)
			delay := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)))

			s.logger.WithError(err).Warnf("fetch failed, retrying in %s", delay)

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		backoff = minFetchBackoff
		s.process(recs)
	}
}

// process handles one fetch. Records of one partition are handled in order;
// distinct partitions run concurrently on the worker pool.
func (s *Subscription) process(recs []*Record) {
	batches := partitionBatches(recs)
	if len(batches) == 1 {
		s.handleBatch(batches[0])
		return
	}

	for _, batch := range batches {
		s.pool.Go(func() { s.handleBatch(batch) })
	}
	s.pool.Wait()
}

func (s *Subscription) handleBatch(recs []*Record) {
	for _, rec := range recs {
		// stop between records, never during one
		if s.ctx.Err() != nil {
			return
		}
		s.handle(rec)
	}
}

// partitionBatches groups records by topic partition, keeping fetch order.
func partitionBatches(recs []*Record) [][]*Record {
	index := map[topicPartition]int{}
	var out [][]*Record
	for _, rec := range recs {
		key := topicPartition{rec.Topic, rec.Partition}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], rec)
	}
	return out
}

// handle runs one record to completion: dispatch, dead-letter on failure,
// then commit. The handler keeps running when the subscription is stopped.
func (s *Subscription) handle(rec *Record) {
	c := s.client
	ctx := context.WithoutCancel(s.ctx)

	logger := s.logger.WithFields(logrus.Fields{
		"topic":     rec.Topic,
		"partition": rec.Partition,
		"offset":    rec.Offset,
	})

	start := time.Now()
	evt, reason, err := c.dispatch(ctx, rec)
	c.metrics.HandlerDuration.WithLabelValues(rec.Topic).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		c.metrics.Consumed.WithLabelValues(rec.Topic, evt.Type()).Inc()
		logger.WithField("event_type", evt.Type()).Trace("handled event")

	case errors.Is(err, errNoHandler):
		logger.WithField("event_type", evt.Type()).Debug("no handler registered, skipping")

	default:
		c.metrics.HandlerFailures.WithLabelValues(rec.Topic, reason).Inc()
		logger.WithError(err).WithField("reason", reason).Error("event failed, routing to dead-letter topic")
		s.deadLetter(ctx, rec, err, logger)
	}

	cctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	if err := s.reader.Commit(cctx, rec); err != nil {
		logger.WithError(err).Warn("commit failed")
	}
}

func (s *Subscription) deadLetter(ctx context.Context, rec *Record, reason error, logger *logrus.Entry) {
	c := s.client

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	dlq := c.deadLetterRouter()
	if dlq == nil {
		c.metrics.DeadLetterFailure.WithLabelValues(rec.Topic).Inc()
		logger.Error("dead-letter router unavailable, dropping record")
		return
	}

	if err := dlq.Route(ctx, rec.Topic, rec, reason); err != nil {
		c.metrics.DeadLetterFailure.WithLabelValues(rec.Topic).Inc()
		logger.WithError(err).Error("dead-letter write failed, dropping record")
		return
	}
	c.metrics.DeadLettered.WithLabelValues(rec.Topic).Inc()
}

// dispatch decodes rec, validates it and runs its handler. reason labels the
// failure for metrics.
func (c *Client) dispatch(ctx context.Context, rec *Record) (evt *events.Event, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			reason = "panic"
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	evt, err = events.Unmarshal(rec.Value)
	if err != nil {
		return nil, "decode", errors.WrapValidation("kafka.consume", err)
	}

	if err := c.validator.Validate(evt); err != nil {
		return evt, "validation", err
	}

	h, ok := c.handler(evt.Type())
	if !ok {
		return evt, "", errNoHandler
	}

	if err := h(ctx, evt); err != nil {
		return evt, "handler", err
	}
	return evt, "", nil
}

func (c *Client) deadLetterRouter() *DeadLetterRouter {
	c.io.RLock()
	defer c.io.RUnlock()
	return c.dlq
}
