package main

import (
	"context"
	"fmt"

	"github.com/freightopt/eventbus/events"
	"github.com/spf13/cobra"
)

func publishCommand() *cobra.Command {
	var correlationID string

	cmd := &cobra.Command{
		Use:   "publish [event-type] [category] [payload-json]",
		Short: "Validate and publish one event",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, ok := events.ParseCategory(args[1])
			if !ok {
				return fmt.Errorf("unknown category %q", args[1])
			}

			var opts []events.Option
			if correlationID != "" {
				opts = append(opts, events.WithCorrelationID(correlationID))
			}

			evt, err := events.New(args[0], category, []byte(args[2]), opts...)
			if err != nil {
				return err
			}

			return boot(cmd, func(ctx context.Context, a *app) error {
				if err := a.client.Publish(ctx, evt); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), evt.Metadata)
			})
		},
	}

	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation id to stamp on the event")
	return cmd
}
