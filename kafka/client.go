package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freightopt/eventbus/errors"
	"github.com/freightopt/eventbus/events"
	"github.com/freightopt/eventbus/functional"
	"github.com/freightopt/eventbus/registry"
	"github.com/freightopt/eventbus/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// State is the lifecycle state of a Client.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// EventValidator checks an event before it is published or handled.
type EventValidator interface {
	Validate(evt *events.Event) error
}

// Client is the broker client of one process: it publishes events, runs
// consumption loops, provisions topics and dead-letters failed records.
type Client struct {
	cfg    Config
	driver Driver
	topics *registry.Topics
	groups *registry.Groups
	logger *logrus.Entry

	validator  EventValidator
	registerer prometheus.Registerer
	metrics    *Metrics
	driverErr  error

	state     atomic.Int32
	lifecycle sync.Mutex

	// io guards the writer and admin handles against Shutdown closing them
	io     sync.RWMutex
	writer Writer
	admin  Admin
	dlq    *DeadLetterRouter

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	subsMu sync.Mutex
	subs   []*Subscription
}

// Option wires a collaborator into the client
type Option func(*Client)

// WithDriver replaces the transport chosen by Config.Transport
func WithDriver(d Driver) Option {
	return func(c *Client) { c.driver = d }
}

func WithTopics(t *registry.Topics) Option {
	return func(c *Client) { c.topics = t }
}

func WithGroups(g *registry.Groups) Option {
	return func(c *Client) { c.groups = g }
}

// WithValidator sets the validator. Without one Init loads the builtin schema
// catalog and validates according to Config.SchemaValidation.
func WithValidator(v EventValidator) Option {
	return func(c *Client) { c.validator = v }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRegisterer sets where the client metrics are registered
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg,
		logger:   logrus.NewEntry(logrus.StandardLogger()),
		handlers: map[string]Handler{},
	}
	for _, o := range opts {
		o(c)
	}

	c.logger = c.logger.WithField("component", "kafka")

	if c.topics == nil {
		c.topics = registry.NewTopics(cfg.TopicPrefix,
			registry.WithDefaultPartitions(cfg.DefaultPartitions),
			registry.WithDefaultReplicationFactor(cfg.DefaultReplicationFactor),
		)
	}
	if c.groups == nil {
		c.groups = registry.NewGroups(cfg.GroupPrefix)
	}
	if c.driver == nil {
		c.driver, c.driverErr = newDriver(cfg, c.logger)
	}
	c.metrics = NewMetrics(c.registerer)

	return c
}

func newDriver(cfg Config, logger *logrus.Entry) (Driver, error) {
	switch cfg.Transport {
	case TransportFranz, "":
		return NewFranzDriver(cfg, logger), nil
	case TransportSegmentio:
		return NewSegmentioDriver(cfg, logger), nil
	case TransportMemory:
		return NewMemoryBroker(), nil
	}
	return nil, fmt.Errorf("kafka: unknown transport %q", cfg.Transport)
}

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) Ready() bool { return c.State() == StateReady }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.trace("client state %s", s)
}

func (c *Client) Config() Config { return c.cfg }

func (c *Client) Topics() *registry.Topics { return c.topics }

func (c *Client) Groups() *registry.Groups { return c.groups }

func (c *Client) Driver() Driver { return c.driver }

// Init connects the writer and admin handles, pings the cluster and
// provisions the registry topics. On failure everything acquired is released
// and the client stays uninitialized.
func (c *Client) Init(ctx context.Context) error {
	const op = "kafka.init"

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if s := c.State(); s != StateUninitialized {
		return errors.E(errors.KindInternal, op, "client is %s", s)
	}
	c.setState(StateInitializing)

	if err := c.connect(ctx, op); err != nil {
		c.release()
		c.setState(StateUninitialized)
		c.logger.WithError(err).Error("kafka client initialization failed")
		return err
	}

	c.setState(StateReady)
	c.logger.WithFields(logrus.Fields{
		"transport": c.driver.Name(),
		"brokers":   c.cfg.Brokers,
	}).Info("kafka client ready")
	return nil
}

func (c *Client) connect(ctx context.Context, op string) error {
	if c.driverErr != nil {
		return errors.WrapInternal(op, c.driverErr)
	}

	if c.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
		defer cancel()
	}

	if c.validator == nil {
		catalog := schema.NewCatalog(schema.WithCatalogLogger(c.logger))
		if err := catalog.Load(ctx); err != nil {
			return errors.WrapInternal(op, err)
		}
		c.validator = schema.NewValidator(catalog,
			schema.WithValidation(c.cfg.SchemaValidation),
			schema.WithValidatorLogger(c.logger),
		)
	}

	writer, err := c.driver.NewWriter(ctx)
	if err != nil {
		return errors.WrapServiceUnavailable(op, fmt.Errorf("open writer: %w", err))
	}
	c.writer = writer

	admin, err := c.driver.NewAdmin(ctx)
	if err != nil {
		return errors.WrapServiceUnavailable(op, fmt.Errorf("open admin: %w", err))
	}
	c.admin = admin

	if err := admin.Ping(ctx); err != nil {
		return errors.WrapServiceUnavailable(op, fmt.Errorf("ping: %w", err))
	}

	c.dlq = NewDeadLetterRouter(admin, writer, c.topics, c.logger)

	if err := c.ensureTopics(ctx, admin); err != nil {
		return errors.WrapInternal(op, err)
	}
	return nil
}

// release closes the writer and admin handles, each independently.
func (c *Client) release() error {
	c.io.Lock()
	defer c.io.Unlock()

	var err error
	if c.writer != nil {
		err = multierr.Append(err, wrapClose("writer", c.writer.Close()))
	}
	if c.admin != nil {
		err = multierr.Append(err, wrapClose("admin", c.admin.Close()))
	}
	c.writer, c.admin, c.dlq = nil, nil, nil
	return err
}

func wrapClose(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("kafka: close %s: %w", what, err)
}

// Shutdown stops every consumption loop, letting in-flight handlers finish,
// then closes readers, writer and admin. Closing one handle failing does not
// stop the others from closing. Calling it again is a no-op.
func (c *Client) Shutdown(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == StateClosed {
		return nil
	}
	c.setState(StateShuttingDown)

	var err error
	for _, sub := range c.takeSubscriptions() {
		err = multierr.Append(err, sub.Close(ctx))
	}
	err = multierr.Append(err, c.release())

	c.setState(StateClosed)

	if err != nil {
		c.logger.WithError(err).Warn("kafka client shut down with errors")
		return errors.WrapInternal("kafka.shutdown", err)
	}
	c.logger.Info("kafka client closed")
	return nil
}

// EnsureTopicsExist creates the registry topics missing from the cluster.
// It is a no-op when auto creation is disabled and safe to call repeatedly.
func (c *Client) EnsureTopicsExist(ctx context.Context) error {
	const op = "kafka.ensure_topics"

	admin, release, err := c.acquireAdmin(op)
	if err != nil {
		return err
	}
	defer release()

	if err := c.ensureTopics(ctx, admin); err != nil {
		return errors.WrapInternal(op, err)
	}
	return nil
}

func (c *Client) ensureTopics(ctx context.Context, admin Admin) error {
	if !c.cfg.AutoCreateTopics {
		c.logger.Debug("topic auto creation disabled")
		return nil
	}

	existing, err := admin.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	missing := functional.Difference(c.topics.All(), functional.SortedKeys(existing))

	for _, name := range missing {
		spec, _ := c.topics.Spec(name)
		err := admin.CreateTopic(ctx, spec)
		if errors.Is(err, ErrTopicExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create topic %s: %w", spec.Name, err)
		}
		c.logger.WithFields(logrus.Fields{
			"topic":              spec.Name,
			"partitions":         spec.Partitions,
			"replication_factor": spec.ReplicationFactor,
		}).Info("created topic")
	}
	return nil
}

// acquireAdmin returns the admin handle of a ready client. release must be
// called when the caller is done with it.
func (c *Client) acquireAdmin(op string) (Admin, func(), error) {
	c.io.RLock()
	if s := c.State(); s != StateReady || c.admin == nil {
		c.io.RUnlock()
		return nil, nil, errors.E(errors.KindServiceUnavailable, op, "client is %s", s)
	}
	return c.admin, c.io.RUnlock, nil
}

// Admin returns the admin handle, or nil when the client is not ready.
func (c *Client) Admin() Admin {
	c.io.RLock()
	defer c.io.RUnlock()
	if c.State() != StateReady {
		return nil
	}
	return c.admin
}

// ListTopics returns every topic of the cluster sorted by name.
func (c *Client) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	const op = "kafka.list_topics"

	admin, release, err := c.acquireAdmin(op)
	if err != nil {
		return nil, err
	}
	defer release()

	topics, err := admin.ListTopics(ctx)
	if err != nil {
		return nil, adminError(op, err)
	}

	out := make([]TopicInfo, 0, len(topics))
	for _, name := range functional.SortedKeys(topics) {
		out = append(out, topics[name])
	}
	return out, nil
}

func (c *Client) DescribeTopic(ctx context.Context, topic string) (*TopicDetail, error) {
	const op = "kafka.describe_topic"

	admin, release, err := c.acquireAdmin(op)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := admin.DescribeTopic(ctx, topic)
	if err != nil {
		return nil, adminError(op, err)
	}
	return d, nil
}

// CreateTopic creates a topic outside the registry, e.g. from the admin API.
func (c *Client) CreateTopic(ctx context.Context, spec registry.TopicSpec) error {
	const op = "kafka.create_topic"

	spec.Name = sanitizeTopic(spec.Name)
	if spec.Name == "" {
		return errors.E(errors.KindValidation, op, "topic name is required")
	}
	if spec.Partitions <= 0 {
		spec.Partitions = c.cfg.DefaultPartitions
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = c.cfg.DefaultReplicationFactor
	}

	admin, release, err := c.acquireAdmin(op)
	if err != nil {
		return err
	}
	defer release()

	if err := admin.CreateTopic(ctx, spec); err != nil {
		return adminError(op, err)
	}
	c.logger.WithField("topic", spec.Name).Info("created topic")
	return nil
}

// ConsumerGroupsForTopic returns the groups with committed offsets on topic.
func (c *Client) ConsumerGroupsForTopic(ctx context.Context, topic string) ([]string, error) {
	const op = "kafka.topic_groups"

	admin, release, err := c.acquireAdmin(op)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := admin.DescribeTopic(ctx, topic); err != nil {
		return nil, adminError(op, err)
	}

	groups, err := admin.ListGroups(ctx)
	if err != nil {
		return nil, adminError(op, err)
	}

	out := []string{}
	for _, group := range groups {
		d, err := admin.DescribeGroup(ctx, group)
		if errors.Is(err, ErrUnknownGroup) {
			continue
		}
		if err != nil {
			return nil, adminError(op, err)
		}
		for _, t := range d.Topics() {
			if t == topic {
				out = append(out, group)
				break
			}
		}
	}
	return out, nil
}

// DescribeGroup returns group state, members and per partition lag.
func (c *Client) DescribeGroup(ctx context.Context, group string) (*GroupDetail, error) {
	const op = "kafka.describe_group"

	admin, release, err := c.acquireAdmin(op)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := admin.DescribeGroup(ctx, group)
	if err != nil {
		return nil, adminError(op, err)
	}

	ends := map[string]map[int32]int64{}
	for _, topic := range d.Topics() {
		td, err := admin.DescribeTopic(ctx, topic)
		if errors.Is(err, ErrUnknownTopic) {
			continue
		}
		if err != nil {
			return nil, adminError(op, err)
		}
		ends[topic] = map[int32]int64{}
		for _, p := range td.Partitions {
			ends[topic][p.ID] = p.EndOffset
		}
	}

	d.Lag = 0
	for i := range d.Offsets {
		o := &d.Offsets[i]
		o.End = ends[o.Topic][o.Partition]
		o.Lag = max(0, o.End-o.Committed)
		d.Lag += o.Lag
	}
	return d, nil
}

func adminError(op string, err error) error {
	switch {
	case errors.Is(err, ErrUnknownTopic), errors.Is(err, ErrUnknownGroup):
		return errors.WrapNotFound(op, err)
	case errors.Is(err, ErrTopicExists):
		return errors.WrapValidation(op, err)
	}
	return errors.WrapServiceUnavailable(op, err)
}

func (c *Client) takeSubscriptions() []*Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subs := c.subs
	c.subs = nil
	return subs
}

func (c *Client) removeSubscription(s *Subscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.subs = functional.Filter(c.subs, func(x *Subscription) bool { return x != s })
}

// Subscriptions returns the running subscriptions sorted by group.
func (c *Client) Subscriptions() []*Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	out := append([]*Subscription(nil), c.subs...)
	sort.Slice(out, func(i, j int) bool { return out[i].group < out[j].group })
	return out
}

func (c *Client) requestTimeout() time.Duration {
	if c.cfg.RequestTimeout > 0 {
		return c.cfg.RequestTimeout
	}
	return 30 * time.Second
}

func (c *Client) trace(message string, args ...interface{}) {
	c.logger.Tracef("[KAFKA] "+message, args...)
}
