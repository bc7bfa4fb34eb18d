package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/sr"
)

// subjectReader is the part of the schema registry client the catalog uses.
type subjectReader interface {
	Subjects(ctx context.Context) ([]string, error)
	SchemaByVersion(ctx context.Context, subject string, version int) (sr.SubjectSchema, error)
}

// RegistrySource pulls the latest JSON schema of every subject from a
// Confluent compatible schema registry. Subjects follow the topic-name
// strategy, so "LOAD_CREATED-value" serves event type LOAD_CREATED.
type RegistrySource struct {
	client subjectReader
	url    string
	logger *logrus.Entry
}

type RegistryConfig struct {
	URL      string
	Username string
	Password string
	Logger   *logrus.Entry
}

func NewRegistrySource(cfg RegistryConfig) (*RegistrySource, error) {
	opts := []sr.ClientOpt{sr.URLs(cfg.URL)}
	if cfg.Username != "" {
		opts = append(opts, sr.BasicAuth(cfg.Username, cfg.Password))
	}

	cl, err := sr.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("schema: registry client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &RegistrySource{client: cl, url: cfg.URL, logger: logger}, nil
}

func (r *RegistrySource) Name() string { return "registry:" + r.url }

// Schemas returns the latest JSON schema of each subject. Subjects of other
// schema types are skipped.
func (r *RegistrySource) Schemas(ctx context.Context) (map[string]*Schema, error) {
	subjects, err := r.client.Subjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema: list subjects: %w", err)
	}

	out := make(map[string]*Schema, len(subjects))
	for _, subject := range subjects {
		logger := r.logger.WithField("subject", subject)

		ss, err := r.client.SchemaByVersion(ctx, subject, -1)
		if err != nil {
			return nil, fmt.Errorf("schema: fetch %s: %w", subject, err)
		}

		if ss.Type != sr.TypeJSON {
			logger.WithField("schema_type", ss.Type).Warn("skipping non-json subject")
			continue
		}

		sc, err := ParseJSON([]byte(ss.Schema.Schema))
		if err != nil {
			logger.WithError(err).Warn("skipping unparseable subject")
			continue
		}
		if sc.Version == "" {
			sc.Version = strconv.Itoa(ss.Version)
		}

		out[eventTypeForSubject(subject)] = sc
	}
	return out, nil
}

func eventTypeForSubject(subject string) string {
	subject = strings.TrimSuffix(subject, "-value")
	return strings.TrimSuffix(subject, "-key")
}
