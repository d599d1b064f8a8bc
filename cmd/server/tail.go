package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"tradebook/infra/kafka"
)

func newTailCmd(a *app) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print exchange events from the Kafka topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Kafka.Brokers) == 0 {
				return errors.New("no kafka brokers configured")
			}
			if group == "" {
				group = a.cfg.Kafka.Group
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := kafka.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, group)
			defer c.Close()
			out := cmd.OutOrStdout()
			for {
				env, err := c.Next(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", env.Seq, env.Time.Format(time.RFC3339), env.Name, env.Data)
			}
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "consumer group (default from config)")
	return cmd
}
