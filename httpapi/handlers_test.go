package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	eberrors "github.com/freightopt/eventbus/errors"
	"github.com/freightopt/eventbus/events"
	"github.com/freightopt/eventbus/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const driverTopic = "freight-optimization-driver_events"

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newClient(t *testing.T, init bool) (*kafka.Client, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := kafka.DefaultConfig().Apply(kafka.WithTransport(kafka.TransportMemory), kafka.WithDefaultPartitions(1))
	c := kafka.NewClient(cfg,
		kafka.WithDriver(kafka.NewMemoryBroker()),
		kafka.WithRegisterer(reg),
		kafka.WithLogger(quiet()),
	)
	if init {
		require.NoError(t, c.Init(context.Background()))
		t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	}
	return c, reg
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealthAndReadiness(t *testing.T) {
	c, _ := newClient(t, false)
	h := NewRouter(c, WithLogger(quiet()))

	rec, _ := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "uninitialized", body["state"])

	require.NoError(t, c.Init(context.Background()))
	defer c.Shutdown(context.Background())

	rec, body = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["state"])
}

func TestTopics(t *testing.T) {
	c, _ := newClient(t, true)
	h := NewRouter(c, WithLogger(quiet()))

	req := httptest.NewRequest(http.MethodGet, "/topics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var topics []kafka.TopicInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &topics))
	assert.Len(t, topics, len(c.Topics().All()))

	rec, body := do(t, h, http.MethodGet, "/topics/"+driverTopic, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, driverTopic, body["name"])
	assert.EqualValues(t, 1, body["partitions"])

	rec, _ = do(t, h, http.MethodGet, "/topics/unknown-topic", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTopic(t *testing.T) {
	c, _ := newClient(t, true)
	h := NewRouter(c, WithLogger(quiet()))

	rec, body := do(t, h, http.MethodPost, "/topics", `{"name":"audit","partitions":4}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 4, body["partitions"])

	rec, _ = do(t, h, http.MethodPost, "/topics", `{"name":"audit"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "duplicate")

	rec, _ = do(t, h, http.MethodPost, "/topics", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed body")

	rec, _ = do(t, h, http.MethodPost, "/topics", `{"partitions":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing name")
}

func TestCreateTopicDescribesNormalizedName(t *testing.T) {
	c, _ := newClient(t, true)
	h := NewRouter(c, WithLogger(quiet()))

	rec, body := do(t, h, http.MethodPost, "/topics", `{"name":"Audit Trail","partitions":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "audit-trail", body["name"])
	assert.EqualValues(t, 2, body["partitions"])
	assert.Contains(t, body, "partition_details")
}

func TestGroups(t *testing.T) {
	c, _ := newClient(t, true)
	h := NewRouter(c, WithLogger(quiet()))
	ctx := context.Background()

	handled := make(chan struct{}, 1)
	sub, err := c.Subscribe(ctx, []string{driverTopic}, "driver-service", map[string]kafka.Handler{
		"DRIVER_CREATED": func(context.Context, *events.Event) error {
			handled <- struct{}{}
			return nil
		},
	})
	require.NoError(t, err)

	evt, err := events.New("DRIVER_CREATED", events.CategoryDriver, map[string]any{"driver_id": "d", "name": "n"})
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, evt))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("event not handled")
	}
	require.NoError(t, sub.Close(ctx))

	rec, body := do(t, h, http.MethodGet, "/topics/"+driverTopic+"/groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"driver-service"}, body["groups"])

	rec, body = do(t, h, http.MethodGet, "/groups/driver-service", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "driver-service", body["group"])
	assert.EqualValues(t, 0, body["lag"])

	rec, _ = do(t, h, http.MethodGet, "/groups/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotReadyMapsTo503(t *testing.T) {
	c, _ := newClient(t, false)
	h := NewRouter(c, WithLogger(quiet()))

	rec, _ := do(t, h, http.MethodGet, "/topics", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	c, reg := newClient(t, true)
	h := NewRouter(c, WithLogger(quiet()), WithGatherer(reg))

	evt, err := events.New("DRIVER_CREATED", events.CategoryDriver, map[string]any{"driver_id": "d", "name": "n"})
	require.NoError(t, err)
	require.NoError(t, c.Publish(context.Background(), evt))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `eventbus_events_published_total{topic="`+driverTopic+`"} 1`)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(eberrors.WrapNotFound("op", errors.New("x"))))
	assert.Equal(t, http.StatusBadRequest, statusOf(eberrors.WrapValidation("op", errors.New("x"))))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(eberrors.WrapServiceUnavailable("op", errors.New("x"))))
	assert.Equal(t, http.StatusInternalServerError, statusOf(eberrors.WrapInternal("op", errors.New("x"))))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("plain")))
}
