package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/freightopt/eventbus/registry"
	"github.com/sirupsen/logrus"
)

// Dead-letter headers.
const (
	HeaderOriginalTopic     = "original-topic"
	HeaderErrorMessage      = "error-message"
	HeaderErrorStack        = "error-stack"
	HeaderOriginalPartition = "original-partition"
	HeaderOriginalOffset    = "original-offset"
	HeaderFailedAt          = "failed-at"
)

// PanicError is a recovered handler panic together with the goroutine stack
// at the point of the panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// DeadLetterRouter republishes records that could not be handled to
// "{source}-dlq", creating that topic on demand.
type DeadLetterRouter struct {
	admin  Admin
	writer Writer
	topics *registry.Topics
	logger *logrus.Entry
	now    func() time.Time
}

func NewDeadLetterRouter(admin Admin, writer Writer, topics *registry.Topics, logger *logrus.Entry) *DeadLetterRouter {
	return &DeadLetterRouter{
		admin:  admin,
		writer: writer,
		topics: topics,
		logger: logger,
		now:    time.Now,
	}
}

// Route writes the unmodified key and value of rec to the dead-letter topic of
// sourceTopic with headers describing reason.
func (d *DeadLetterRouter) Route(ctx context.Context, sourceTopic string, rec *Record, reason error) error {
	dlq := registry.DeadLetterTopic(sourceTopic)

	if err := d.ensure(ctx, sourceTopic, dlq); err != nil {
		return fmt.Errorf("kafka: dead-letter %s: %w", dlq, err)
	}

	msg := &Record{
		Topic: dlq,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: []Header{
			{Key: HeaderOriginalTopic, Value: []byte(sourceTopic)},
			{Key: HeaderErrorMessage, Value: []byte(errorMessage(reason))},
			{Key: HeaderErrorStack, Value: []byte(errorStack(reason))},
			{Key: HeaderOriginalPartition, Value: []byte(strconv.FormatInt(int64(rec.Partition), 10))},
			{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(rec.Offset, 10))},
			{Key: HeaderFailedAt, Value: []byte(d.now().UTC().Format(time.RFC3339Nano))},
		},
	}

	if err := d.writer.Write(ctx, msg); err != nil {
		return fmt.Errorf("kafka: dead-letter %s: write: %w", dlq, err)
	}

	d.logger.WithFields(logrus.Fields{
		"topic":     sourceTopic,
		"dlq":       dlq,
		"partition": rec.Partition,
		"offset":    rec.Offset,
	}).WithError(reason).Warn("record dead-lettered")
	return nil
}

// ensure checks the cluster on every call so a dead-letter topic deleted by an
// operator is recreated.
func (d *DeadLetterRouter) ensure(ctx context.Context, source, dlq string) error {
	existing, err := d.admin.ListTopics(ctx)
	if err != nil {
		return err
	}
	if _, ok := existing[dlq]; ok {
		return nil
	}

	spec := registry.TopicSpec{Name: dlq, Partitions: 1, ReplicationFactor: 1}
	if d.topics != nil {
		if src, ok := d.topics.Spec(source); ok {
			spec.Partitions = src.Partitions
			spec.ReplicationFactor = src.ReplicationFactor
		}
	}

	err = d.admin.CreateTopic(ctx, spec)
	if err != nil && !errors.Is(err, ErrTopicExists) {
		return err
	}
	if err == nil {
		d.logger.WithField("topic", dlq).Info("created dead-letter topic")
	}
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// errorStack is the panic stack for recovered panics and the wrap chain
// otherwise.
func errorStack(err error) string {
	var perr *PanicError
	if errors.As(err, &perr) {
		return string(perr.Stack)
	}

	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(chain, "\n")
}
