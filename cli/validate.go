package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a graph document without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	out := cmd.OutOrStdout()

	g, err := loadGraphDocument(filePath)
	if err != nil {
		return err
	}

	if err := g.IsValid(); err != nil {
		fmt.Fprintf(out, "ERROR: %v\n", err)
		return exitError(exitValidation, "validation failed")
	}

	fmt.Fprintln(out, "Valid!")
	return nil
}
