package kafka

import (
	"context"

	"github.com/freightopt/eventbus/errors"
	"github.com/freightopt/eventbus/events"
	"github.com/sirupsen/logrus"
)

// Publisher is the publishing surface of a Client
type Publisher interface {
	Publish(ctx context.Context, evt *events.Event) error
	PublishBatch(ctx context.Context, evts ...*events.Event) error
}

var _ Publisher = (*Client)(nil)

// Publish fills in missing metadata, validates evt against its schema and
// writes it to the topic of its category, keyed by event id. It returns once
// the broker acknowledged the write.
func (c *Client) Publish(ctx context.Context, evt *events.Event) error {
	return c.produce(ctx, "kafka.publish", []*events.Event{evt})
}

// PublishBatch validates every event before writing any of them. The
// events are then written in a single request.
func (c *Client) PublishBatch(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	return c.produce(ctx, "kafka.publish_batch", evts)
}

func (c *Client) produce(ctx context.Context, op string, evts []*events.Event) error {
	c.io.RLock()
	defer c.io.RUnlock()

	if s := c.State(); s != StateReady || c.writer == nil {
		return errors.E(errors.KindServiceUnavailable, op, "client is %s", s)
	}

	records := make([]*Record, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			return errors.E(errors.KindValidation, op, "nil event")
		}

		evt.FillDefaults(c.cfg.ServiceName)

		if err := c.validator.Validate(evt); err != nil {
			return err
		}

		body, err := events.Marshal(evt)
		if err != nil {
			return errors.WrapInternal(op, err)
		}

		records = append(records, &Record{
			Topic: c.topics.ResolveCategory(evt.Metadata.Category),
			Key:   evt.Key(),
			Value: body,
			Time:  evt.Metadata.EventTime,
		})
	}

	if err := c.writer.Write(ctx, records...); err != nil {
		for _, rec := range records {
			c.metrics.PublishFailures.WithLabelValues(rec.Topic).Inc()
		}
		c.logger.WithError(err).WithField("events", len(records)).Error("publish failed")
		return errors.WrapServiceUnavailable(op, err)
	}

	for i, rec := range records {
		c.metrics.Published.WithLabelValues(rec.Topic).Inc()
		c.logger.WithFields(logrus.Fields{
			"topic":      rec.Topic,
			"partition":  rec.Partition,
			"offset":     rec.Offset,
			"event_type": evts[i].Type(),
			"event_id":   evts[i].Metadata.EventID,
		}).Debug("published event")
	}
	return nil
}
