// Wip CLI — инструмент командной строки для управления tasks через HTTP API.
//
// Использование:
//
//	wip [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Адрес API по умолчанию берётся из WIP_API_URL.
//
// Команды:
//
//	task    Управление tasks
//	signal  Отправка сигналов
//	table   Проверка таблиц состояний
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/wip/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "wip",
		Short:         "Wip CLI — distributed task state machines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("WIP_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL (env WIP_API_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewSignalCmd(clientFn, outputFn),
		cli.NewTableCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
