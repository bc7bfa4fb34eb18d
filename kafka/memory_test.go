package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/freightopt/eventbus/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetchWithin(t *testing.T, r Reader, d time.Duration) []*Record {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	recs, err := r.Fetch(ctx)
	if err != nil {
		return nil
	}
	return recs
}

func TestMemoryWriteRequiresTopic(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	w, _ := b.NewWriter(ctx)

	err := w.Write(ctx, &Record{Topic: "orders", Value: []byte("x")})
	assert.ErrorIs(t, err, ErrUnknownTopic)

	auto := NewMemoryBroker(WithMemoryAutoCreate())
	w, _ = auto.NewWriter(ctx)
	require.NoError(t, w.Write(ctx, &Record{Topic: "orders", Value: []byte("x")}))
	assert.Len(t, auto.Records("orders"), 1)
}

func TestMemoryKeyedPartitioning(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	a, _ := b.NewAdmin(ctx)
	w, _ := b.NewWriter(ctx)

	require.NoError(t, a.CreateTopic(ctx, registry.TopicSpec{Name: "positions", Partitions: 6}))

	first := &Record{Topic: "positions", Key: []byte("truck-7"), Value: []byte("1")}
	second := &Record{Topic: "positions", Key: []byte("truck-7"), Value: []byte("2")}
	require.NoError(t, w.Write(ctx, first))
	require.NoError(t, w.Write(ctx, second))

	assert.Equal(t, first.Partition, second.Partition, "same key, same partition")
	assert.Equal(t, int64(0), first.Offset)
	assert.Equal(t, int64(1), second.Offset)
}

func TestMemoryReaderStartsAtEnd(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	a, _ := b.NewAdmin(ctx)
	w, _ := b.NewWriter(ctx)
	require.NoError(t, a.CreateTopic(ctx, registry.TopicSpec{Name: "loads", Partitions: 1}))

	require.NoError(t, w.Write(ctx, &Record{Topic: "loads", Value: []byte("old")}))

	r, err := b.NewReader(ctx, []string{"loads"}, "g")
	require.NoError(t, err)
	defer r.Close()

	assert.Empty(t, fetchWithin(t, r, 20*time.Millisecond))

	require.NoError(t, w.Write(ctx, &Record{Topic: "loads", Value: []byte("new")}))

	recs := fetchWithin(t, r, time.Second)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("new"), recs[0].Value)
}

func TestMemoryResumesFromCommitted(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	a, _ := b.NewAdmin(ctx)
	w, _ := b.NewWriter(ctx)
	require.NoError(t, a.CreateTopic(ctx, registry.TopicSpec{Name: "loads", Partitions: 1}))

	r, err := b.NewReader(ctx, []string{"loads"}, "g")
	require.NoError(t, err)

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, w.Write(ctx, &Record{Topic: "loads", Value: []byte(v)}))
	}

	recs := fetchWithin(t, r, time.Second)
	require.Len(t, recs, 3)
	require.NoError(t, r.Commit(ctx, recs[0]))
	require.NoError(t, r.Close())

	off, ok := b.Committed("g", "loads", 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), off)

	// a new member picks up after the last commit, not at the log end
	r2, err := b.NewReader(ctx, []string{"loads"}, "g")
	require.NoError(t, err)
	defer r2.Close()

	recs = fetchWithin(t, r2, time.Second)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("b"), recs[0].Value)
}

func TestMemoryGroupSplitsPartitions(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	a, _ := b.NewAdmin(ctx)
	w, _ := b.NewWriter(ctx)
	require.NoError(t, a.CreateTopic(ctx, registry.TopicSpec{Name: "drivers", Partitions: 4}))

	r1, _ := b.NewReader(ctx, []string{"drivers"}, "g")
	r2, _ := b.NewReader(ctx, []string{"drivers"}, "g")
	defer r1.Close()
	defer r2.Close()
	assert.Equal(t, 2, b.Members("g"))

	for i := 0; i < 40; i++ {
		require.NoError(t, w.Write(ctx, &Record{Topic: "drivers", Key: []byte{byte(i)}, Value: []byte{byte(i)}}))
	}

	got1 := fetchWithin(t, r1, time.Second)
	got2 := fetchWithin(t, r2, time.Second)

	assert.Len(t, append(got1, got2...), 40)

	owner := map[int32]int{}
	for _, rec := range got1 {
		owner[rec.Partition] = 1
	}
	for _, rec := range got2 {
		assert.NotEqual(t, 1, owner[rec.Partition], "partition %d read by both members", rec.Partition)
	}
}

func TestMemoryCloseUnblocksFetch(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	r, _ := b.NewReader(ctx, []string{"t"}, "g")

	errc := make(chan error, 1)
	go func() {
		_, err := r.Fetch(ctx)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("fetch still blocked")
	}

	assert.ErrorIs(t, r.Commit(ctx, &Record{Topic: "t"}), ErrClosed)
	assert.NoError(t, r.Close())
}

func TestMemoryAdmin(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	a, _ := b.NewAdmin(ctx)

	require.NoError(t, a.CreateTopic(ctx, registry.TopicSpec{
		Name:              "rates",
		Partitions:        2,
		ReplicationFactor: 3,
		Config:            map[string]string{"retention.ms": "604800000"},
	}))
	assert.ErrorIs(t, a.CreateTopic(ctx, registry.TopicSpec{Name: "rates"}), ErrTopicExists)

	topics, err := a.ListTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, TopicInfo{Name: "rates", PartitionCount: 2, ReplicationFactor: 3}, topics["rates"])

	d, err := a.DescribeTopic(ctx, "rates")
	require.NoError(t, err)
	assert.Equal(t, "604800000", d.Config["retention.ms"])
	assert.Len(t, d.Partitions[0].Replicas, 3)
	assert.Equal(t, int64(0), d.Messages())

	_, err = a.DescribeTopic(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownTopic)

	_, err = a.DescribeGroup(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownGroup)

	r, _ := b.NewReader(ctx, []string{"rates"}, "pricing")
	groups, err := a.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing"}, groups)

	g, err := a.DescribeGroup(ctx, "pricing")
	require.NoError(t, err)
	assert.Equal(t, "Stable", g.State)
	require.Len(t, g.Members, 1)

	require.NoError(t, r.Close())
	g, err = a.DescribeGroup(ctx, "pricing")
	require.NoError(t, err)
	assert.Equal(t, "Empty", g.State)
}
