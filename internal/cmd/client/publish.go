package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fazpi-ai/fazpi-qbull/pkg/queue"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// newPublishCommand constructs the `publish` subcommand.
func newPublishCommand() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a work item to a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			streamName, _ := cmd.Flags().GetString("stream")
			rawFields, _ := cmd.Flags().GetStringArray("field")
			fieldsJSON, _ := cmd.Flags().GetString("json")
			orderingKey, _ := cmd.Flags().GetString("ordering-key")

			payload := store.Payload{}
			for _, fv := range rawFields {
				if fv == "" {
					continue
				}
				parts := strings.SplitN(fv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid --field, expected key=value: %s", fv)
				}
				payload[strings.TrimSpace(parts[0])] = parts[1]
			}
			if fieldsJSON != "" {
				var m map[string]string
				if err := json.Unmarshal([]byte(fieldsJSON), &m); err != nil {
					return fmt.Errorf("invalid --json: %w", err)
				}
				for k, v := range m {
					payload[k] = v
				}
			}

			env, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := env.store.Connect(ctx, nil); err != nil {
				return err
			}
			defer env.store.Disconnect(ctx)

			publisher := queue.NewPublisher(env.store, queue.WithPublisherLogger(env.logger))

			var opts []queue.PublishOption
			if orderingKey != "" {
				opts = append(opts, queue.WithOrderingKey(orderingKey))
			}
			id, err := publisher.Publish(ctx, streamName, payload, opts...)
			if err != nil {
				return err
			}

			out := map[string]interface{}{"status": "OK", "id": id}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	publishCmd.Flags().StringP("stream", "s", "", "Stream name")
	publishCmd.Flags().StringArray("field", []string{}, "Payload field key=value (repeat)")
	publishCmd.Flags().String("json", "", "Payload as JSON object of string fields")
	publishCmd.Flags().StringP("ordering-key", "k", "", "Ordering key (optional)")
	_ = publishCmd.MarkFlagRequired("stream")
	return publishCmd
}
