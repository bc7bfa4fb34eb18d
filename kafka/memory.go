package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/freightopt/eventbus/functional"
	"github.com/freightopt/eventbus/registry"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// MemoryBroker is an in-process broker: partitioned logs, consumer groups with
// committed offsets and an admin surface. It backs the memory transport used
// by tests and local runs.
type MemoryBroker struct {
	mu         sync.Mutex
	topics     map[string]*memTopic
	groups     map[string]*memGroup
	autoCreate bool
	writeErr   error
	notify     chan struct{}
	balancer   *kafka.Murmur2Balancer
}

type memTopic struct {
	name        string
	replication int16
	config      map[string]string
	partitions  [][]*Record
}

type memGroup struct {
	id         string
	committed  map[string]map[int32]int64
	members    []*memReader
	generation int
}

type topicPartition struct {
	topic     string
	partition int32
}

type MemoryOption func(*MemoryBroker)

// WithMemoryAutoCreate creates unknown topics with one partition on write,
// like a broker with auto.create.topics.enable.
func WithMemoryAutoCreate() MemoryOption {
	return func(b *MemoryBroker) { b.autoCreate = true }
}

func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		topics:   map[string]*memTopic{},
		groups:   map[string]*memGroup{},
		notify:   make(chan struct{}),
		balancer: &kafka.Murmur2Balancer{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *MemoryBroker) Name() string { return TransportMemory }

func (b *MemoryBroker) NewWriter(context.Context) (Writer, error) { return &memWriter{b: b}, nil }

func (b *MemoryBroker) NewAdmin(context.Context) (Admin, error) { return &memAdmin{b: b}, nil }

// NewReader joins group and starts every partition that exists now at its end.
func (b *MemoryBroker) NewReader(_ context.Context, topics []string, group string) (Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.group(group)
	r := &memReader{
		b:         b,
		group:     g,
		topics:    append([]string(nil), topics...),
		memberID:  group + "-" + uuid.NewString(),
		positions: map[topicPartition]int64{},
		joinEnds:  map[topicPartition]int64{},
	}

	for _, topic := range topics {
		if t, ok := b.topics[topic]; ok {
			for p, log := range t.partitions {
				r.joinEnds[topicPartition{topic, int32(p)}] = int64(len(log))
			}
		}
	}

	g.members = append(g.members, r)
	g.generation++
	return r, nil
}

// SetWriteError makes every write fail with err until it is reset with nil.
func (b *MemoryBroker) SetWriteError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// Records returns a copy of every record of topic, partition by partition.
func (b *MemoryBroker) Records(topic string) []*Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return nil
	}

	var out []*Record
	for _, log := range t.partitions {
		for _, rec := range log {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// Committed returns the next offset group will read from a partition.
func (b *MemoryBroker) Committed(group, topic string, partition int32) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[group]
	if !ok {
		return 0, false
	}
	off, ok := g.committed[topic][partition]
	return off, ok
}

// Members returns how many readers are joined to group.
func (b *MemoryBroker) Members(group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if g, ok := b.groups[group]; ok {
		return len(g.members)
	}
	return 0
}

func (b *MemoryBroker) group(id string) *memGroup {
	g, ok := b.groups[id]
	if !ok {
		g = &memGroup{id: id, committed: map[string]map[int32]int64{}}
		b.groups[id] = g
	}
	return g
}

func (b *MemoryBroker) createTopic(spec registry.TopicSpec) *memTopic {
	t := &memTopic{
		name:        spec.Name,
		replication: max(1, spec.ReplicationFactor),
		partitions:  make([][]*Record, max(1, spec.Partitions)),
		config:      map[string]string{},
	}
	for k, v := range spec.Config {
		t.config[k] = v
	}
	b.topics[spec.Name] = t
	return t
}

// broadcast wakes every blocked Fetch. Callers hold b.mu.
func (b *MemoryBroker) broadcast() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *MemoryBroker) partition(key []byte, n int) int32 {
	partitions := make([]int, n)
	for i := range partitions {
		partitions[i] = i
	}
	return int32(b.balancer.Balance(kafka.Message{Key: key}, partitions...))
}

type memWriter struct {
	b *MemoryBroker
}

func (w *memWriter) Write(ctx context.Context, records ...*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := w.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writeErr != nil {
		return b.writeErr
	}

	for _, rec := range records {
		if _, ok := b.topics[rec.Topic]; !ok && !b.autoCreate {
			return fmt.Errorf("%w: %s", ErrUnknownTopic, rec.Topic)
		}
	}

	now := time.Now()
	for _, rec := range records {
		t, ok := b.topics[rec.Topic]
		if !ok {
			t = b.createTopic(registry.TopicSpec{Name: rec.Topic, Partitions: 1, ReplicationFactor: 1})
		}

		p := b.partition(rec.Key, len(t.partitions))
		stored := *rec
		stored.Partition = p
		stored.Offset = int64(len(t.partitions[p]))
		stored.Headers = append([]Header(nil), rec.Headers...)
		if stored.Time.IsZero() {
			stored.Time = now
		}
		t.partitions[p] = append(t.partitions[p], &stored)

		rec.Partition, rec.Offset = stored.Partition, stored.Offset
	}

	b.broadcast()
	return nil
}

func (w *memWriter) Close() error { return nil }

type memReader struct {
	b         *MemoryBroker
	group     *memGroup
	topics    []string
	memberID  string
	positions map[topicPartition]int64
	joinEnds  map[topicPartition]int64
	gen       int
	closed    bool
}

const memFetchMax = 500

func (r *memReader) Fetch(ctx context.Context) ([]*Record, error) {
	for {
		r.b.mu.Lock()
		if r.closed {
			r.b.mu.Unlock()
			return nil, ErrClosed
		}
		recs := r.collect(memFetchMax)
		wait := r.b.notify
		r.b.mu.Unlock()

		if len(recs) > 0 {
			return recs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// collect reads from the partitions assigned to r. Callers hold b.mu.
func (r *memReader) collect(limit int) []*Record {
	if r.gen != r.group.generation {
		// membership changed; resume from committed offsets
		r.positions = map[topicPartition]int64{}
		r.gen = r.group.generation
	}

	idx, n := 0, len(r.group.members)
	for i, m := range r.group.members {
		if m == r {
			idx = i
		}
	}

	var out []*Record
	for _, topic := range r.topics {
		t, ok := r.b.topics[topic]
		if !ok {
			continue
		}
		for p, log := range t.partitions {
			if p%n != idx {
				continue
			}

			key := topicPartition{topic, int32(p)}
			pos := r.position(key)
			for pos < int64(len(log)) && len(out) < limit {
				cp := *log[pos]
				out = append(out, &cp)
				pos++
			}
			r.positions[key] = pos
		}
	}
	return out
}

func (r *memReader) position(key topicPartition) int64 {
	if pos, ok := r.positions[key]; ok {
		return pos
	}
	if off, ok := r.group.committed[key.topic][key.partition]; ok {
		return off
	}
	return r.joinEnds[key]
}

func (r *memReader) Commit(_ context.Context, records ...*Record) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	for _, rec := range records {
		offsets, ok := r.group.committed[rec.Topic]
		if !ok {
			offsets = map[int32]int64{}
			r.group.committed[rec.Topic] = offsets
		}
		if next := rec.Offset + 1; next > offsets[rec.Partition] {
			offsets[rec.Partition] = next
		}
	}
	return nil
}

func (r *memReader) Close() error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	g := r.group
	g.members = functional.Filter(g.members, func(m *memReader) bool { return m != r })
	g.generation++

	r.b.broadcast()
	return nil
}

type memAdmin struct {
	b *MemoryBroker
}

func (a *memAdmin) Ping(ctx context.Context) error { return ctx.Err() }

func (a *memAdmin) ListTopics(context.Context) (map[string]TopicInfo, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	out := make(map[string]TopicInfo, len(a.b.topics))
	for name, t := range a.b.topics {
		out[name] = t.info()
	}
	return out, nil
}

func (a *memAdmin) CreateTopic(_ context.Context, spec registry.TopicSpec) error {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	if _, ok := a.b.topics[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTopicExists, spec.Name)
	}
	a.b.createTopic(spec)
	a.b.broadcast()
	return nil
}

func (a *memAdmin) DescribeTopic(_ context.Context, topic string) (*TopicDetail, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	t, ok := a.b.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	replicas := make([]int32, t.replication)
	for i := range replicas {
		replicas[i] = int32(i)
	}

	d := &TopicDetail{TopicInfo: t.info(), Config: map[string]string{}}
	for k, v := range t.config {
		d.Config[k] = v
	}
	for p, log := range t.partitions {
		d.Partitions = append(d.Partitions, PartitionDetail{
			ID:        int32(p),
			Replicas:  replicas,
			EndOffset: int64(len(log)),
		})
	}
	return d, nil
}

func (a *memAdmin) ListGroups(context.Context) ([]string, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	return functional.SortedKeys(a.b.groups), nil
}

func (a *memAdmin) DescribeGroup(_ context.Context, group string) (*GroupDetail, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()

	g, ok := a.b.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	d := &GroupDetail{Group: group, State: "Empty"}
	if len(g.members) > 0 {
		d.State = "Stable"
	}
	for _, m := range g.members {
		d.Members = append(d.Members, GroupMember{MemberID: m.memberID, ClientID: TransportMemory, ClientHost: "localhost"})
	}

	for topic, offsets := range g.committed {
		for p, off := range offsets {
			d.Offsets = append(d.Offsets, GroupOffset{Topic: topic, Partition: p, Committed: off})
		}
	}
	sort.Slice(d.Offsets, func(i, j int) bool {
		if d.Offsets[i].Topic != d.Offsets[j].Topic {
			return d.Offsets[i].Topic < d.Offsets[j].Topic
		}
		return d.Offsets[i].Partition < d.Offsets[j].Partition
	})
	return d, nil
}

func (a *memAdmin) Close() error { return nil }

func (t *memTopic) info() TopicInfo {
	return TopicInfo{
		Name:              t.name,
		PartitionCount:    int32(len(t.partitions)),
		ReplicationFactor: t.replication,
	}
}
