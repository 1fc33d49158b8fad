package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewSignalCmd создаёт группу команд для сигналов.
func NewSignalCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Send signals to waiting tasks",
	}
	cmd.AddCommand(newSignalPostCmd(clientFn, outputFn))
	return cmd
}

func newSignalPostCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var data string
	var status string
	var exitCode int
	cmd := &cobra.Command{
		Use:   "post ID",
		Short: "Post a signal by its callback id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}
			if status != "" {
				payload["status"] = status
			}
			if cmd.Flags().Changed("exit-code") {
				payload["exit_code"] = exitCode
			}

			sig, err := clientFn().PostSignal(args[0], payload)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Signal %s accepted for task %d", sig.ID, sig.TaskID))
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Payload as a JSON object")
	cmd.Flags().StringVar(&status, "status", "", "Outcome: success or fail")
	cmd.Flags().IntVar(&exitCode, "exit-code", 0, "Exit code of the external operation")
	return cmd
}
