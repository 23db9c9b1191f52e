// Command invokeai-graph is the CLI entry point: validate, run, and
// serve subcommands over the typed dataflow graph engine. Grounded on
// the teacher's cmd/petalflow/main.go.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waffletower/invokeai-graph/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "invokeai-graph",
	Short:        "Typed dataflow graph engine CLI",
	Long:         "invokeai-graph — validate, run, and serve typed dataflow graphs.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose/debug logging (accepted; no subcommand reads it)")
	rootCmd.PersistentFlags().Bool("quiet", false, "Quiet output (accepted; no subcommand reads it)")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("invokeai-graph version %s\n", version))

	rootCmd.AddCommand(cli.NewValidateCmd())
	rootCmd.AddCommand(cli.NewRunCmd())
	rootCmd.AddCommand(cli.NewServeCmd())
}
