package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func topicsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Inspect and provision topics",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ensure",
			Short: "Create every registry topic that is missing",
			RunE: func(cmd *cobra.Command, args []string) error {
				return boot(cmd, func(ctx context.Context, a *app) error {
					if err := a.client.EnsureTopicsExist(ctx); err != nil {
						return err
					}
					for _, t := range a.client.Topics().All() {
						fmt.Fprintln(cmd.OutOrStdout(), t)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the topics of the cluster",
			RunE: func(cmd *cobra.Command, args []string) error {
				return boot(cmd, func(ctx context.Context, a *app) error {
					topics, err := a.client.ListTopics(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), topics)
				})
			},
		},
		&cobra.Command{
			Use:   "describe [topic]",
			Short: "Show partitions, offsets and config of a topic",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return boot(cmd, func(ctx context.Context, a *app) error {
					detail, err := a.client.DescribeTopic(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), detail)
				})
			},
		},
	)
	return cmd
}

func groupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Inspect consumer groups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "describe [group]",
		Short: "Show members, committed offsets and lag of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(cmd, func(ctx context.Context, a *app) error {
				detail, err := a.client.DescribeGroup(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), detail)
			})
		},
	})
	return cmd
}
