package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/freightopt/eventbus/functional"
	"github.com/freightopt/eventbus/registry"
	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// FranzDriver is the default transport, built on franz-go.
type FranzDriver struct {
	cfg    Config
	logger *logrus.Entry
}

func NewFranzDriver(cfg Config, logger *logrus.Entry) *FranzDriver {
	return &FranzDriver{cfg: cfg, logger: logger}
}

func (d *FranzDriver) Name() string { return TransportFranz }

// createClient creates a franz-go client with the shared connection settings
func (d *FranzDriver) createClient(kgoOpts ...kgo.Opt) (*kgo.Client, error) {
	cfg := d.cfg
	backoff := cfg.RetryBackoff

	opts := append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(newKgoLogger(d.logger)),
		kgo.RequestRetries(cfg.Retries),
		kgo.RetryBackoffFn(func(int) time.Duration { return backoff }),
	}, kgoOpts...)

	if cfg.ConnectionTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.ConnectionTimeout))
	}

	mechanism, err := cfg.franzSASL()
	if err != nil {
		return nil, err
	}
	if mechanism != nil {
		opts = append(opts, kgo.SASL(mechanism))
	}

	if tlsCfg := cfg.tlsConfig(); tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}

	d.logger.Tracef("[KAFKA] creating franz client with brokers %v and client ID %s", cfg.Brokers, cfg.ClientID)
	return kgo.NewClient(opts...)
}

func (d *FranzDriver) NewWriter(ctx context.Context) (Writer, error) {
	cfg := d.cfg

	var opts []kgo.Opt
	switch cfg.RequiredAcks {
	case AckNone:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case AckLeader:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}

	// nil hasher keeps Kafka's murmur2, matching the segmentio transport
	opts = append(opts, kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)))

	if codec, ok := franzCompression(cfg.Compression); ok {
		opts = append(opts, kgo.ProducerBatchCompression(codec))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, kgo.ProduceRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.Retries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.Retries))
	}

	cl, err := d.createClient(opts...)
	if err != nil {
		return nil, err
	}
	return &franzWriter{cl: cl}, nil
}

func (d *FranzDriver) NewReader(ctx context.Context, topics []string, group string) (Reader, error) {
	opts := []kgo.Opt{
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
	}
	if d.cfg.ReadMaxWait > 0 {
		opts = append(opts, kgo.FetchMaxWait(d.cfg.ReadMaxWait))
	}
	if d.cfg.ReadMaxBytes > 0 {
		opts = append(opts, kgo.FetchMaxBytes(int32(d.cfg.ReadMaxBytes)))
	}

	cl, err := d.createClient(opts...)
	if err != nil {
		return nil, err
	}
	return &franzReader{cl: cl, max: max(1, d.cfg.FetchMaxRecords), logger: d.logger}, nil
}

func (d *FranzDriver) NewAdmin(ctx context.Context) (Admin, error) {
	cl, err := d.createClient()
	if err != nil {
		return nil, err
	}
	return &franzAdmin{cl: cl, adm: kadm.NewClient(cl)}, nil
}

func franzCompression(c Compression) (kgo.CompressionCodec, bool) {
	switch c {
	case CompressionGzip:
		return kgo.GzipCompression(), true
	case CompressionSnappy:
		return kgo.SnappyCompression(), true
	case CompressionLZ4:
		return kgo.Lz4Compression(), true
	case CompressionZstd:
		return kgo.ZstdCompression(), true
	case CompressionNone:
		return kgo.NoCompression(), true
	}
	return kgo.CompressionCodec{}, false
}

type franzWriter struct {
	cl *kgo.Client
}

func (w *franzWriter) Write(ctx context.Context, records ...*Record) error {
	krecs := functional.Map(records, toKgoRecord)
	return w.cl.ProduceSync(ctx, krecs...).FirstErr()
}

func (w *franzWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := w.cl.Flush(ctx)
	w.cl.Close()
	return err
}

func toKgoRecord(r *Record) *kgo.Record {
	krec := &kgo.Record{
		Topic:     r.Topic,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Time,
	}
	for _, h := range r.Headers {
		krec.Headers = append(krec.Headers, kgo.RecordHeader{Key: h.Key, Value: h.Value})
	}
	return krec
}

func fromKgoRecord(k *kgo.Record) *Record {
	r := &Record{
		Topic:     k.Topic,
		Partition: k.Partition,
		Offset:    k.Offset,
		Key:       k.Key,
		Value:     k.Value,
		Time:      k.Timestamp,
		source:    k,
	}
	for _, h := range k.Headers {
		r.Headers = append(r.Headers, Header{Key: h.Key, Value: h.Value})
	}
	return r
}

type franzReader struct {
	cl     *kgo.Client
	max    int
	logger *logrus.Entry

	commitMu sync.Mutex
}

func (r *franzReader) Fetch(ctx context.Context) ([]*Record, error) {
	fetches := r.cl.PollRecords(ctx, r.max)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recs := functional.Map(fetches.Records(), fromKgoRecord)

	errs := fetches.Errors()
	if len(errs) > 0 && len(recs) == 0 {
		fe := errs[0]
		return nil, fmt.Errorf("kafka: fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}
	for _, fe := range errs {
		r.logger.WithFields(logrus.Fields{"topic": fe.Topic, "partition": fe.Partition}).
			WithError(fe.Err).Warn("partial fetch error")
	}
	return recs, nil
}

func (r *franzReader) Commit(ctx context.Context, records ...*Record) error {
	krecs := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		if k, ok := rec.source.(*kgo.Record); ok {
			krecs = append(krecs, k)
			continue
		}
		krecs = append(krecs, &kgo.Record{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset, LeaderEpoch: -1})
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	return r.cl.CommitRecords(ctx, krecs...)
}

func (r *franzReader) Close() error {
	r.cl.Close()
	return nil
}

type franzAdmin struct {
	cl  *kgo.Client
	adm *kadm.Client
}

func (a *franzAdmin) Ping(ctx context.Context) error { return a.cl.Ping(ctx) }

func (a *franzAdmin) ListTopics(ctx context.Context) (map[string]TopicInfo, error) {
	details, err := a.adm.ListTopics(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]TopicInfo, len(details))
	for name, d := range details {
		if d.Err != nil {
			continue
		}
		out[name] = franzTopicInfo(d)
	}
	return out, nil
}

func (a *franzAdmin) CreateTopic(ctx context.Context, spec registry.TopicSpec) error {
	var configs map[string]*string
	if len(spec.Config) > 0 {
		configs = make(map[string]*string, len(spec.Config))
		for k, v := range spec.Config {
			configs[k] = &v
		}
	}

	resp, err := a.adm.CreateTopic(ctx, spec.Partitions, spec.ReplicationFactor, configs, spec.Name)
	if err == nil {
		err = resp.Err
	}
	if errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("%w: %s", ErrTopicExists, spec.Name)
	}
	return err
}

func (a *franzAdmin) DescribeTopic(ctx context.Context, topic string) (*TopicDetail, error) {
	details, err := a.adm.ListTopics(ctx, topic)
	if err != nil {
		return nil, err
	}

	d, ok := details[topic]
	if !ok || errors.Is(d.Err, kerr.UnknownTopicOrPartition) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if d.Err != nil {
		return nil, d.Err
	}

	starts, err := a.adm.ListStartOffsets(ctx, topic)
	if err != nil {
		return nil, err
	}
	ends, err := a.adm.ListEndOffsets(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := &TopicDetail{TopicInfo: franzTopicInfo(d), Config: map[string]string{}}
	for _, p := range functional.SortedKeys(d.Partitions) {
		pd := d.Partitions[p]
		out.Partitions = append(out.Partitions, PartitionDetail{
			ID:          p,
			Leader:      pd.Leader,
			Replicas:    pd.Replicas,
			StartOffset: starts[topic][p].Offset,
			EndOffset:   ends[topic][p].Offset,
		})
	}

	configs, err := a.adm.DescribeTopicConfigs(ctx, topic)
	if err != nil {
		return nil, err
	}
	for _, rc := range configs {
		if rc.Err != nil {
			continue
		}
		for _, c := range rc.Configs {
			if c.Value != nil {
				out.Config[c.Key] = *c.Value
			}
		}
	}
	return out, nil
}

func (a *franzAdmin) ListGroups(ctx context.Context) ([]string, error) {
	groups, err := a.adm.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	return functional.SortedKeys(groups), nil
}

func (a *franzAdmin) DescribeGroup(ctx context.Context, group string) (*GroupDetail, error) {
	described, err := a.adm.DescribeGroups(ctx, group)
	if err != nil {
		return nil, err
	}

	g, ok := described[group]
	if !ok || g.State == "Dead" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if g.Err != nil {
		return nil, g.Err
	}

	out := &GroupDetail{Group: group, State: g.State}
	for _, m := range g.Members {
		out.Members = append(out.Members, GroupMember{MemberID: m.MemberID, ClientID: m.ClientID, ClientHost: m.ClientHost})
	}

	offsets, err := a.adm.FetchOffsets(ctx, group)
	if err != nil {
		return nil, err
	}
	for _, topic := range functional.SortedKeys(offsets) {
		partitions := offsets[topic]
		for _, p := range functional.SortedKeys(partitions) {
			o := partitions[p]
			if o.Err != nil {
				continue
			}
			out.Offsets = append(out.Offsets, GroupOffset{Topic: topic, Partition: p, Committed: o.At})
		}
	}
	return out, nil
}

func (a *franzAdmin) Close() error {
	a.adm.Close()
	return nil
}

func franzTopicInfo(d kadm.TopicDetail) TopicInfo {
	info := TopicInfo{
		Name:           d.Topic,
		PartitionCount: int32(len(d.Partitions)),
		Internal:       d.IsInternal,
	}
	for _, p := range d.Partitions {
		info.ReplicationFactor = int16(len(p.Replicas))
		break
	}
	return info
}
