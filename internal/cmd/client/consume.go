package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fazpi-ai/fazpi-qbull/pkg/log"
	"github.com/fazpi-ai/fazpi-qbull/pkg/queue"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// newConsumeCommand constructs the `consume` subcommand: a worker that prints
// handled messages until SIGINT/SIGTERM.
func newConsumeCommand() *cobra.Command {
	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume a stream (worker mode)",
		Long: `Consume messages from a stream via its consumer group and print them.
Messages are acknowledged after successful handling. Use Ctrl+C to stop;
in-flight handlers drain before exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			streamName, _ := cmd.Flags().GetString("stream")
			group, _ := cmd.Flags().GetString("group")
			consumerName, _ := cmd.Flags().GetString("consumer")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			ordered, _ := cmd.Flags().GetBool("ordered")
			filterExpr, _ := cmd.Flags().GetString("filter")
			blockMs, _ := cmd.Flags().GetInt64("block-ms")
			shutdownMs, _ := cmd.Flags().GetInt64("shutdown-timeout-ms")

			env, err := buildEnv(cmd)
			if err != nil {
				return err
			}

			// Layer a signal context so Ctrl+C starts the graceful path.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := env.store.Connect(ctx, nil); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			handler := func(_ context.Context, msg store.Message) error {
				return enc.Encode(map[string]interface{}{"id": msg.ID, "values": msg.Values})
			}

			opts := []queue.Option{
				queue.WithConcurrency(concurrency),
				queue.WithConsumerLogger(env.logger),
				queue.WithBlockTime(time.Duration(blockMs) * time.Millisecond),
				queue.WithGracefulShutdownTimeout(time.Duration(shutdownMs) * time.Millisecond),
			}
			if ordered {
				opts = append(opts, queue.WithOrderingByKey())
			}
			if group != "" {
				opts = append(opts, queue.WithGroup(group))
			}
			if consumerName != "" {
				opts = append(opts, queue.WithConsumerName(consumerName))
			}
			if filterExpr != "" {
				opts = append(opts, queue.WithFilter(filterExpr))
			}

			consumer, err := queue.NewConsumer(env.store.Client(), streamName, handler, opts...)
			if err != nil {
				_ = env.store.Disconnect(context.Background())
				return err
			}
			if err := consumer.Start(ctx); err != nil {
				_ = env.store.Disconnect(context.Background())
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "consuming %s as %s (group %s); Ctrl+C to stop\n",
				streamName, consumer.Name(), consumer.Group())

			<-ctx.Done()

			// Consumers stop before the shared store disconnects.
			shutdownCtx := context.Background()
			if err := consumer.Stop(shutdownCtx); err != nil {
				env.logger.Warn("consumer stop", log.Err(err))
			}
			return env.store.Disconnect(shutdownCtx)
		},
	}
	consumeCmd.Flags().StringP("stream", "s", "", "Stream name")
	consumeCmd.Flags().StringP("group", "g", "", "Consumer group (default group:<stream>)")
	consumeCmd.Flags().String("consumer", "", "Consumer name (default consumer:<stream>-<pid>-<ms>)")
	consumeCmd.Flags().IntP("concurrency", "c", 1, "Max concurrent handlers")
	consumeCmd.Flags().Bool("ordered", false, "Serialize messages sharing an ordering key")
	consumeCmd.Flags().String("filter", "", "CEL expression gating dispatch")
	consumeCmd.Flags().Int64("block-ms", 5000, "Blocking read timeout in milliseconds")
	consumeCmd.Flags().Int64("shutdown-timeout-ms", 30000, "Graceful shutdown timeout in milliseconds")
	_ = consumeCmd.MarkFlagRequired("stream")
	return consumeCmd
}
