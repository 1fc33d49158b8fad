package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskSubmitCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskSignalsCmd(clientFn, outputFn),
		newTaskControlCmd("pause", "Pause a task", clientFn, outputFn, (*Client).PauseTask),
		newTaskControlCmd("resume", "Resume a paused task", clientFn, outputFn, (*Client).ResumeTask),
		newTaskForceCmd(clientFn, outputFn),
		newTaskTypesCmd(clientFn, outputFn),
	)
	return cmd
}

var taskHeaders = []string{"ID", "TYPE", "GROUP", "STATE", "STATUS", "EXIT", "STEPS", "NEXT_RUN"}

func taskRow(t TaskResponse) []string {
	status := t.Status
	if t.Paused {
		status += " (paused)"
	}
	return []string{
		strconv.FormatInt(t.ID, 10),
		t.Type,
		t.Group,
		t.State,
		status,
		strconv.Itoa(t.ExitCode),
		strconv.Itoa(t.Steps),
		t.NextRunAt,
	}
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

// parseInputs разбирает KEY=VALUE.
func parseInputs(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		inputs[k] = v
	}
	return inputs, nil
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListTasksOpts
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListTasks(opts)
			if err != nil {
				return err
			}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}
			outputFn().Print(taskHeaders, rows, tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Group, "group", "", "Filter by group")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Filter by task type")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (ACTIVE, FINISHED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	return cmd
}

func newTaskSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var group string
	var inputs []string
	cmd := &cobra.Command{
		Use:   "submit TYPE",
		Short: "Submit a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			task, err := clientFn().CreateTask(CreateTaskRequest{Type: args[0], Group: group, Inputs: in})
			if err != nil {
				return err
			}
			out := outputFn()
			out.Success(fmt.Sprintf("Task submitted: %d", task.ID))
			out.Print(taskHeaders, [][]string{taskRow(*task)}, task)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Task group")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := clientFn().GetTask(id)
			if err != nil {
				return err
			}
			outputFn().Print(
				append(taskHeaders, "MESSAGE"),
				[][]string{append(taskRow(*task), task.ExitMessage)},
				task,
			)
			return nil
		},
	}
}

func newTaskSignalsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "signals ID",
		Short: "List signals of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			sigs, err := clientFn().ListSignals(id)
			if err != nil {
				return err
			}
			rows := make([][]string, len(sigs))
			for i, s := range sigs {
				rows[i] = []string{s.ID, s.Type, s.Status, s.Resource, s.CreatedAt}
			}
			outputFn().Print([]string{"ID", "TYPE", "STATUS", "RESOURCE", "CREATED"}, rows, sigs)
			return nil
		},
	}
}

func newTaskControlCmd(
	use, short string,
	clientFn func() *Client,
	outputFn func() *Output,
	call func(*Client, int64) (*TaskResponse, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := call(clientFn(), id)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Task %d: %s ok", task.ID, use))
			return nil
		},
	}
}

func newTaskForceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "force ID STATE",
		Short: "Force a task into STATE on its next step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := clientFn().ForceTask(id, args[1])
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Task %d will move to %s", task.ID, task.ForceState))
			return nil
		},
	}
}

func newTaskTypesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List registered task types",
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := clientFn().ListTypes()
			if err != nil {
				return err
			}
			rows := make([][]string, len(types))
			for i, t := range types {
				rows[i] = []string{t}
			}
			outputFn().Print([]string{"TYPE"}, rows, types)
			return nil
		},
	}
}
