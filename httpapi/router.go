// Package httpapi serves health, metrics and the topic and consumer group
// admin endpoints of a bus process.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/freightopt/eventbus/kafka"
	"github.com/freightopt/eventbus/registry"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Bus is the part of the kafka client the API exposes.
type Bus interface {
	State() kafka.State
	ListTopics(ctx context.Context) ([]kafka.TopicInfo, error)
	DescribeTopic(ctx context.Context, topic string) (*kafka.TopicDetail, error)
	CreateTopic(ctx context.Context, spec registry.TopicSpec) error
	ConsumerGroupsForTopic(ctx context.Context, topic string) ([]string, error)
	DescribeGroup(ctx context.Context, group string) (*kafka.GroupDetail, error)
}

var _ Bus = (*kafka.Client)(nil)

type Option func(*Handlers)

func WithLogger(logger *logrus.Entry) Option {
	return func(h *Handlers) { h.logger = logger }
}

// WithGatherer sets the registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handlers) { h.gatherer = g }
}

func NewRouter(bus Bus, opts ...Option) http.Handler {
	h := &Handlers{
		bus:      bus,
		logger:   logrus.NewEntry(logrus.StandardLogger()),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.WithField("component", "http")

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/topics", func(r chi.Router) {
		r.Get("/", h.ListTopics)
		r.Post("/", h.CreateTopic)
		r.Get("/{topic}", h.DescribeTopic)
		r.Get("/{topic}/groups", h.TopicGroups)
	})

	r.Get("/groups/{group}", h.DescribeGroup)

	return r
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": chimiddleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}
