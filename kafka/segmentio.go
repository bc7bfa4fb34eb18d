package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/freightopt/eventbus/functional"
	"github.com/freightopt/eventbus/registry"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// SegmentioDriver is the transport built on segmentio/kafka-go.
type SegmentioDriver struct {
	cfg    Config
	logger *logrus.Entry
}

func NewSegmentioDriver(cfg Config, logger *logrus.Entry) *SegmentioDriver {
	return &SegmentioDriver{cfg: cfg, logger: logger.WithField("component", "kafka.segmentio")}
}

func (d *SegmentioDriver) Name() string { return TransportSegmentio }

func (d *SegmentioDriver) transport() (*kafka.Transport, error) {
	mechanism, err := d.cfg.segmentioSASL()
	if err != nil {
		return nil, err
	}

	return &kafka.Transport{
		DialTimeout: max(d.cfg.ConnectionTimeout, time.Second),
		IdleTimeout: 45 * time.Second,
		ClientID:    d.cfg.ClientID,
		TLS:         d.cfg.tlsConfig(),
		SASL:        mechanism,
	}, nil
}

func (d *SegmentioDriver) NewWriter(ctx context.Context) (Writer, error) {
	transport, err := d.transport()
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(d.cfg.Brokers...),
		Balancer:     &kafka.Murmur2Balancer{},
		Async:        false,
		RequiredAcks: kafka.RequiredAcks(d.cfg.RequiredAcks),
		MaxAttempts:  max(1, d.cfg.Retries+1),
		WriteTimeout: d.cfg.RequestTimeout,
		Transport:    transport,
		Logger:       &KafkaLogger{Logger: d.logger},
		ErrorLogger:  &KafkaErrorLogger{Logger: d.logger},
	}
	if d.cfg.RetryBackoff > 0 {
		w.WriteBackoffMin = d.cfg.RetryBackoff
	}
	if codec, ok := segmentioCompression(d.cfg.Compression); ok {
		w.Compression = codec
	}
	return &segmentioWriter{w: w}, nil
}

func (d *SegmentioDriver) NewReader(ctx context.Context, topics []string, group string) (Reader, error) {
	mechanism, err := d.cfg.segmentioSASL()
	if err != nil {
		return nil, err
	}

	dialer := &kafka.Dialer{
		Timeout:       max(d.cfg.ConnectionTimeout, time.Second),
		DualStack:     true,
		KeepAlive:     15 * time.Second,
		ClientID:      d.cfg.ClientID,
		TLS:           d.cfg.tlsConfig(),
		SASLMechanism: mechanism,
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		WatchPartitionChanges:  true,
		PartitionWatchInterval: 10 * time.Second,
		Brokers:                d.cfg.Brokers,
		GroupID:                group,
		GroupTopics:            topics,
		StartOffset:            kafka.LastOffset,
		MinBytes:               1,
		MaxBytes:               max(1, d.cfg.ReadMaxBytes),
		MaxWait:                max(d.cfg.ReadMaxWait, 10*time.Millisecond),
		Dialer:                 dialer,
		JoinGroupBackoff:       5 * time.Second,
		ReadBackoffMin:         250 * time.Millisecond,
		ReadBackoffMax:         10 * time.Second,
		GroupBalancers:         []kafka.GroupBalancer{kafka.RangeGroupBalancer{}},
		QueueCapacity:          100,
		MaxAttempts:            max(1, d.cfg.Retries),
		Logger:                 &KafkaLogger{Logger: d.logger},
		ErrorLogger:            &KafkaErrorLogger{Logger: d.logger},
	})
	return &segmentioReader{r: r}, nil
}

func (d *SegmentioDriver) NewAdmin(ctx context.Context) (Admin, error) {
	transport, err := d.transport()
	if err != nil {
		return nil, err
	}

	return &segmentioAdmin{
		c: &kafka.Client{
			Addr:      kafka.TCP(d.cfg.Brokers...),
			Timeout:   d.cfg.RequestTimeout,
			Transport: transport,
		},
		transport: transport,
	}, nil
}

func segmentioCompression(c Compression) (kafka.Compression, bool) {
	switch c {
	case CompressionGzip:
		return kafka.Gzip, true
	case CompressionSnappy:
		return kafka.Snappy, true
	case CompressionLZ4:
		return kafka.Lz4, true
	case CompressionZstd:
		return kafka.Zstd, true
	}
	return 0, false
}

type segmentioWriter struct {
	w *kafka.Writer
}

func (w *segmentioWriter) Write(ctx context.Context, records ...*Record) error {
	return w.w.WriteMessages(ctx, functional.Map(records, toSegmentioMessage)...)
}

func (w *segmentioWriter) Close() error { return w.w.Close() }

func toSegmentioMessage(r *Record) kafka.Message {
	m := kafka.Message{Topic: r.Topic, Key: r.Key, Value: r.Value, Time: r.Time}
	for _, h := range r.Headers {
		m.Headers = append(m.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}
	return m
}

func fromSegmentioMessage(m kafka.Message) *Record {
	r := &Record{
		Topic:     m.Topic,
		Partition: int32(m.Partition),
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}
	for _, h := range m.Headers {
		r.Headers = append(r.Headers, Header{Key: h.Key, Value: h.Value})
	}
	return r
}

// segmentioReader hands out one message per fetch; kafka-go batches internally.
type segmentioReader struct {
	r *kafka.Reader
}

func (r *segmentioReader) Fetch(ctx context.Context) ([]*Record, error) {
	m, err := r.r.FetchMessage(ctx)
	if errors.Is(err, io.EOF) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	return []*Record{fromSegmentioMessage(m)}, nil
}

func (r *segmentioReader) Commit(ctx context.Context, records ...*Record) error {
	msgs := functional.Map(records, func(rec *Record) kafka.Message {
		return kafka.Message{Topic: rec.Topic, Partition: int(rec.Partition), Offset: rec.Offset}
	})
	return r.r.CommitMessages(ctx, msgs...)
}

func (r *segmentioReader) Close() error { return r.r.Close() }

type segmentioAdmin struct {
	c         *kafka.Client
	transport *kafka.Transport
}

func (a *segmentioAdmin) Ping(ctx context.Context) error {
	_, err := a.c.Metadata(ctx, &kafka.MetadataRequest{})
	return err
}

func (a *segmentioAdmin) ListTopics(ctx context.Context) (map[string]TopicInfo, error) {
	meta, err := a.c.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, err
	}

	out := make(map[string]TopicInfo, len(meta.Topics))
	for _, t := range meta.Topics {
		if t.Error != nil {
			continue
		}
		out[t.Name] = segmentioTopicInfo(t)
	}
	return out, nil
}

func (a *segmentioAdmin) CreateTopic(ctx context.Context, spec registry.TopicSpec) error {
	tc := kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     int(spec.Partitions),
		ReplicationFactor: int(spec.ReplicationFactor),
	}
	for _, k := range functional.SortedKeys(spec.Config) {
		tc.ConfigEntries = append(tc.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: spec.Config[k]})
	}

	resp, err := a.c.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: []kafka.TopicConfig{tc}})
	if err == nil {
		err = resp.Errors[spec.Name]
	}
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("%w: %s", ErrTopicExists, spec.Name)
	}
	return err
}

func (a *segmentioAdmin) DescribeTopic(ctx context.Context, topic string) (*TopicDetail, error) {
	meta, err := a.c.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return nil, err
	}

	var t *kafka.Topic
	for i := range meta.Topics {
		if meta.Topics[i].Name == topic {
			t = &meta.Topics[i]
		}
	}
	if t == nil || errors.Is(t.Error, kafka.UnknownTopicOrPartition) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if t.Error != nil {
		return nil, t.Error
	}

	requests := make([]kafka.OffsetRequest, 0, 2*len(t.Partitions))
	for _, p := range t.Partitions {
		requests = append(requests, kafka.FirstOffsetOf(p.ID), kafka.LastOffsetOf(p.ID))
	}
	offsets, err := a.c.ListOffsets(ctx, &kafka.ListOffsetsRequest{Topics: map[string][]kafka.OffsetRequest{topic: requests}})
	if err != nil {
		return nil, err
	}
	byPartition := map[int]kafka.PartitionOffsets{}
	for _, po := range offsets.Topics[topic] {
		byPartition[po.Partition] = po
	}

	out := &TopicDetail{TopicInfo: segmentioTopicInfo(*t), Config: map[string]string{}}
	for _, p := range t.Partitions {
		po := byPartition[p.ID]
		out.Partitions = append(out.Partitions, PartitionDetail{
			ID:          int32(p.ID),
			Leader:      int32(p.Leader.ID),
			Replicas:    functional.Map(p.Replicas, func(b kafka.Broker) int32 { return int32(b.ID) }),
			StartOffset: po.FirstOffset,
			EndOffset:   po.LastOffset,
		})
	}
	sort.Slice(out.Partitions, func(i, j int) bool { return out.Partitions[i].ID < out.Partitions[j].ID })

	configs, err := a.c.DescribeConfigs(ctx, &kafka.DescribeConfigsRequest{
		Resources: []kafka.DescribeConfigRequestResource{{
			ResourceType: kafka.ResourceTypeTopic,
			ResourceName: topic,
		}},
	})
	if err != nil {
		return nil, err
	}
	for _, res := range configs.Resources {
		if res.Error != nil {
			continue
		}
		for _, e := range res.ConfigEntries {
			out.Config[e.ConfigName] = e.ConfigValue
		}
	}
	return out, nil
}

func (a *segmentioAdmin) ListGroups(ctx context.Context) ([]string, error) {
	resp, err := a.c.ListGroups(ctx, &kafka.ListGroupsRequest{})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	groups := functional.Map(resp.Groups, func(g kafka.ListGroupsResponseGroup) string { return g.GroupID })
	sort.Strings(groups)
	return groups, nil
}

func (a *segmentioAdmin) DescribeGroup(ctx context.Context, group string) (*GroupDetail, error) {
	resp, err := a.c.DescribeGroups(ctx, &kafka.DescribeGroupsRequest{GroupIDs: []string{group}})
	if err != nil {
		return nil, err
	}

	var found *kafka.DescribeGroupsResponseGroup
	for i := range resp.Groups {
		if resp.Groups[i].GroupID == group {
			found = &resp.Groups[i]
		}
	}
	if found == nil || found.GroupState == "Dead" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if found.Error != nil {
		return nil, found.Error
	}

	out := &GroupDetail{Group: group, State: found.GroupState}
	for _, m := range found.Members {
		out.Members = append(out.Members, GroupMember{MemberID: m.MemberID, ClientID: m.ClientID, ClientHost: m.ClientHost})
	}

	// ask for every partition of every topic; partitions the group never
	// committed come back with offset -1
	meta, err := a.c.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, err
	}
	partitions := map[string][]int{}
	for _, t := range meta.Topics {
		if t.Internal || t.Error != nil {
			continue
		}
		partitions[t.Name] = functional.Map(t.Partitions, func(p kafka.Partition) int { return p.ID })
	}

	offsets, err := a.c.OffsetFetch(ctx, &kafka.OffsetFetchRequest{GroupID: group, Topics: partitions})
	if err != nil {
		return nil, err
	}
	if offsets.Error != nil {
		return nil, offsets.Error
	}
	for _, topic := range functional.SortedKeys(offsets.Topics) {
		for _, p := range offsets.Topics[topic] {
			if p.Error != nil || p.CommittedOffset < 0 {
				continue
			}
			out.Offsets = append(out.Offsets, GroupOffset{Topic: topic, Partition: int32(p.Partition), Committed: p.CommittedOffset})
		}
	}
	return out, nil
}

func (a *segmentioAdmin) Close() error {
	a.transport.CloseIdleConnections()
	return nil
}

func segmentioTopicInfo(t kafka.Topic) TopicInfo {
	info := TopicInfo{
		Name:           t.Name,
		PartitionCount: int32(len(t.Partitions)),
		Internal:       t.Internal,
	}
	if len(t.Partitions) > 0 {
		info.ReplicationFactor = int16(len(t.Partitions[0].Replicas))
	}
	return info
}
