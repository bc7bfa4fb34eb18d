package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/freightopt/eventbus/registry"
)

var (
	// ErrClosed is returned by transports used after Close.
	ErrClosed = errors.New("kafka: transport closed")

	// ErrTopicExists is returned by Admin.CreateTopic when the topic is already there.
	ErrTopicExists = errors.New("kafka: topic already exists")

	ErrUnknownTopic = errors.New("kafka: unknown topic")
	ErrUnknownGroup = errors.New("kafka: unknown consumer group")
)

// Header is a record header.
type Header struct {
	Key   string
	Value []byte
}

// Record is a message as the transports see it.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Time      time.Time

	// source is the driver native record, kept for commits.
	source any
}

// Header returns the value of the first header named key.
func (r *Record) Header(key string) (string, bool) {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// Writer produces records.
type Writer interface {
	Write(ctx context.Context, records ...*Record) error
	Close() error
}

// Reader consumes records as a member of a consumer group.
type Reader interface {
	// Fetch blocks until records are available. Records of one partition come
	// back in offset order.
	Fetch(ctx context.Context) ([]*Record, error)
	// Commit marks records as processed for the group.
	Commit(ctx context.Context, records ...*Record) error
	Close() error
}

// Admin is the cluster administration surface.
type Admin interface {
	Ping(ctx context.Context) error
	ListTopics(ctx context.Context) (map[string]TopicInfo, error)
	CreateTopic(ctx context.Context, spec registry.TopicSpec) error
	DescribeTopic(ctx context.Context, topic string) (*TopicDetail, error)
	ListGroups(ctx context.Context) ([]string, error)
	// DescribeGroup returns state, members and committed offsets. End offsets
	// and lag are filled by the client.
	DescribeGroup(ctx context.Context, group string) (*GroupDetail, error)
	Close() error
}

// Driver opens transports for one client.
type Driver interface {
	Name() string
	NewWriter(ctx context.Context) (Writer, error)
	NewReader(ctx context.Context, topics []string, group string) (Reader, error)
	NewAdmin(ctx context.Context) (Admin, error)
}

type TopicInfo struct {
	Name              string `json:"name"`
	PartitionCount    int32  `json:"partitions"`
	ReplicationFactor int16  `json:"replication_factor"`
	Internal          bool   `json:"internal,omitempty"`
}

type PartitionDetail struct {
	ID          int32   `json:"id"`
	Leader      int32   `json:"leader"`
	Replicas    []int32 `json:"replicas"`
	StartOffset int64   `json:"start_offset"`
	EndOffset   int64   `json:"end_offset"`
}

type TopicDetail struct {
	TopicInfo
	Config     map[string]string `json:"config,omitempty"`
	Partitions []PartitionDetail `json:"partition_details"`
}

// Messages is the number of retained records across partitions.
func (d *TopicDetail) Messages() int64 {
	var n int64
	for _, p := range d.Partitions {
		n += p.EndOffset - p.StartOffset
	}
	return n
}

type GroupMember struct {
	MemberID   string `json:"member_id"`
	ClientID   string `json:"client_id"`
	ClientHost string `json:"client_host"`
}

type GroupOffset struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Committed int64  `json:"committed"`
	End       int64  `json:"end"`
	Lag       int64  `json:"lag"`
}

type GroupDetail struct {
	Group   string        `json:"group"`
	State   string        `json:"state"`
	Members []GroupMember `json:"members"`
	Offsets []GroupOffset `json:"offsets"`
	Lag     int64         `json:"lag"`
}

// Topics returns the topics the group has committed offsets for.
func (g *GroupDetail) Topics() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, o := range g.Offsets {
		if _, ok := seen[o.Topic]; !ok {
			seen[o.Topic] = struct{}{}
			out = append(out, o.Topic)
		}
	}
	return out
}
