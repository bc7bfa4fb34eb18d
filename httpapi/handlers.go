package httpapi

import (
	"net/http"

	"github.com/freightopt/eventbus/errors"
	"github.com/freightopt/eventbus/kafka"
	"github.com/freightopt/eventbus/registry"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	bus      Bus
	logger   *logrus.Entry
	gatherer prometheus.Gatherer
}

type createTopicRequest struct {
	Name              string            `json:"name"`
	Partitions        int32             `json:"partitions"`
	ReplicationFactor int16             `json:"replication_factor"`
	Config            map[string]string `json:"config"`
}

type topicGroupsResponse struct {
	Topic  string   `json:"topic"`
	Groups []string `json:"groups"`
}

type stateResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, stateResponse{Status: "ok"})
}

// Ready reports 200 only while the client accepts publishes.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.bus.State()
	if state != kafka.StateReady {
		h.respond(w, http.StatusServiceUnavailable, stateResponse{Status: "unavailable", State: state.String()})
		return
	}
	h.respond(w, http.StatusOK, stateResponse{Status: "ok", State: state.String()})
}

func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.bus.ListTopics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, topics)
}

func (h *Handlers) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, errors.WrapValidation("http.create_topic", err))
		return
	}

	spec := registry.TopicSpec{
		Name:              req.Name,
		Partitions:        req.Partitions,
		ReplicationFactor: req.ReplicationFactor,
		Config:            req.Config,
	}
	if err := h.bus.CreateTopic(r.Context(), spec); err != nil {
		h.fail(w, r, err)
		return
	}

	name := kafka.TopicName(req.Name)
	detail, err := h.bus.DescribeTopic(r.Context(), name)
	if err != nil {
		// created but not visible yet
		h.respond(w, http.StatusCreated, map[string]string{"name": name})
		return
	}
	h.respond(w, http.StatusCreated, detail)
}

func (h *Handlers) DescribeTopic(w http.ResponseWriter, r *http.Request) {
	detail, err := h.bus.DescribeTopic(r.Context(), chi.URLParam(r, "topic"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, detail)
}

func (h *Handlers) TopicGroups(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")

	groups, err := h.bus.ConsumerGroupsForTopic(r.Context(), topic)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, topicGroupsResponse{Topic: topic, Groups: groups})
}

func (h *Handlers) DescribeGroup(w http.ResponseWriter, r *http.Request) {
	detail, err := h.bus.DescribeGroup(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, detail)
}

func (h *Handlers) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Warn("failed to write response")
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	h.respond(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
