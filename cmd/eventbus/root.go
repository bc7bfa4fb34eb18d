package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/freightopt/eventbus/config"
	"github.com/freightopt/eventbus/kafka"
	"github.com/freightopt/eventbus/schema"
	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	brokers    string
	transport  string
)

type app struct {
	settings config.Settings
	viper    *viper.Viper
	logger   *logrus.Entry
	client   *kafka.Client
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "eventbus",
		Short:         "Freight optimization event bus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.PersistentFlags().StringVar(&brokers, "brokers", "", "Kafka brokers, comma separated (overrides config)")
	cmd.PersistentFlags().StringVar(&transport, "transport", "", "transport: franz, segmentio or memory (overrides config)")

	cmd.AddCommand(
		serveCommand(),
		topicsCommand(),
		groupsCommand(),
		publishCommand(),
		tailCommand(),
	)
	return cmd
}

// boot loads settings, initializes a client and runs fn until it returns or
// the process is signalled. The client is shut down afterwards.
func boot(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	settings, v, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var overrides []kafka.ConfigOption
	if brokers != "" {
		overrides = append(overrides, kafka.WithBrokers(strings.Split(brokers, ",")...))
	}
	if transport != "" {
		overrides = append(overrides, kafka.WithTransport(transport))
	}
	settings.Kafka = settings.Kafka.Apply(overrides...)

	logger, err := config.NewLogger(settings.LogLevel, settings.LogFormat)
	if err != nil {
		return err
	}
	entry := logger.WithField("service", settings.ServiceName)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []kafka.Option{kafka.WithLogger(entry)}
	if settings.SchemaRegistryEnabled {
		validator, err := registryValidator(ctx, settings, entry)
		if err != nil {
			return err
		}
		opts = append(opts, kafka.WithValidator(validator))
	}

	client := kafka.NewClient(settings.Kafka, opts...)
	if err := client.Init(ctx); err != nil {
		return err
	}

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(settings))
		defer cancel()

		if err := client.Shutdown(sctx); err != nil {
			entry.WithError(err).Warn("shutdown finished with errors")
		}
	}()

	return fn(ctx, &app{settings: settings, viper: v, logger: entry, client: client})
}

// registryValidator validates against the builtin catalog overlaid with the
// schema registry.
func registryValidator(ctx context.Context, settings config.Settings, logger *logrus.Entry) (*schema.Validator, error) {
	cfg := settings.SchemaRegistry
	cfg.Logger = logger

	src, err := schema.NewRegistrySource(cfg)
	if err != nil {
		return nil, err
	}

	catalog := schema.NewCatalog(schema.WithSources(src), schema.WithCatalogLogger(logger))
	if err := catalog.Load(ctx); err != nil {
		return nil, fmt.Errorf("load schema registry %s: %w", cfg.URL, err)
	}

	return schema.NewValidator(catalog,
		schema.WithValidation(settings.Kafka.SchemaValidation),
		schema.WithValidatorLogger(logger),
	), nil
}

func shutdownTimeout(settings config.Settings) time.Duration {
	if settings.Kafka.RequestTimeout > 0 {
		return settings.Kafka.RequestTimeout
	}
	return 30 * time.Second
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
