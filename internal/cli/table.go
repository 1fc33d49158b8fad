package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/wip/internal/engine"
)

// NewTableCmd создаёт группу команд для таблиц состояний.
// Команды работают локально, без API.
func NewTableCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Work with state tables",
	}
	cmd.AddCommand(newTableCheckCmd(outputFn))
	return cmd
}

// tableRule — правило в JSON-выводе.
type tableRule struct {
	State   string `json:"state"`
	Pattern string `json:"pattern"`
	Next    string `json:"next"`
	Wait    string `json:"wait,omitempty"`
	Max     int    `json:"max,omitempty"`
	Exec    bool   `json:"exec"`
}

func newTableCheckCmd(outputFn func() *Output) *cobra.Command {
	var canonical bool
	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Compile a state table and print its rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			table, err := engine.Compile(string(src))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := outputFn()
			if canonical {
				out.Text(table.String())
				return nil
			}

			var rules []tableRule
			var rows [][]string
			for _, name := range table.States() {
				st, _ := table.State(name)
				for _, r := range st.Rules {
					tr := tableRule{State: name, Pattern: r.Pattern, Next: r.Next, Max: r.Max, Exec: r.Exec}
					if r.Wait > 0 {
						tr.Wait = r.Wait.String()
					}
					rules = append(rules, tr)

					var opts []string
					if r.Wait > 0 {
						opts = append(opts, "wait="+r.Wait.String())
					}
					if r.Max > 0 {
						opts = append(opts, "max="+strconv.Itoa(r.Max))
					}
					if !r.Exec {
						opts = append(opts, "exec=false")
					}
					rows = append(rows, []string{name, st.Evaluator, r.Pattern, r.Next, strings.Join(opts, " ")})
				}
			}
			out.Print([]string{"STATE", "EVALUATOR", "PATTERN", "NEXT", "OPTIONS"}, rows, rules)
			out.Success(fmt.Sprintf("%s: %d states, %d rules", args[0], len(table.States()), len(rules)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&canonical, "canonical", false, "Print the table in canonical DSL form")
	return cmd
}
