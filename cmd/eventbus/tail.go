package main

import (
	"context"
	"fmt"

	"github.com/freightopt/eventbus/events"
	"github.com/freightopt/eventbus/idempotency"
	"github.com/freightopt/eventbus/kafka"
	"github.com/freightopt/eventbus/registry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func tailCommand() *cobra.Command {
	var (
		role       string
		categories []string
		dedupe     bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Consume events under a subscriber role and log each one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cats := make([]events.Category, 0, len(categories))
			for _, name := range categories {
				c, ok := events.ParseCategory(name)
				if !ok {
					return fmt.Errorf("unknown category %q", name)
				}
				cats = append(cats, c)
			}

			return boot(cmd, func(ctx context.Context, a *app) error {
				return tail(ctx, a, role, cats, dedupe)
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", string(registry.RoleAnalyticsService), "subscriber role; selects the consumer group")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to consume (default: all)")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "skip event ids already seen, using redis when REDIS_ADDR is set")
	return cmd
}

func tail(ctx context.Context, a *app, role string, categories []events.Category, dedupe bool) error {
	var handler kafka.Handler = func(_ context.Context, evt *events.Event) error {
		a.logger.WithFields(logrus.Fields{
			"event_id":       evt.Metadata.EventID,
			"event_type":     evt.Type(),
			"category":       evt.Metadata.Category,
			"producer":       evt.Metadata.Producer,
			"correlation_id": evt.Metadata.CorrelationID,
		}).Info(string(evt.Payload))
		return nil
	}

	if dedupe {
		store, closeStore, err := dedupeStore(ctx, a)
		if err != nil {
			return err
		}
		defer closeStore()

		handler = idempotency.Middleware(store, role, a.settings.IdempotencyTTL, idempotency.WithLogger(a.logger))(handler)
	}

	sub, err := a.client.SubscribeRole(ctx, role, categories, map[string]kafka.Handler{
		kafka.AnyEventType: handler,
	})
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"group":  sub.Group(),
		"topics": sub.Topics(),
	}).Info("tailing")

	select {
	case <-ctx.Done():
	case <-sub.Done():
	}
	return nil
}

func dedupeStore(ctx context.Context, a *app) (idempotency.Store, func(), error) {
	if a.settings.Redis.Addr == "" {
		return idempotency.NewMemoryStore(), func() {}, nil
	}

	client, err := idempotency.NewRedisClient(ctx, a.settings.Redis)
	if err != nil {
		return nil, nil, err
	}
	return idempotency.NewRedisStore(client), func() { _ = client.Close() }, nil
}
