package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lowerc/internal/ast"
)

var dumpASTCmd = &cobra.Command{
	Use:   "dump-ast <file>",
	Short: "Print an AST module as JSON, or convert it with --to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := cmd.Flags().GetString("to")
		if err != nil {
			return err
		}
		m, _, err := ast.Load(args[0])
		if err != nil {
			return err
		}
		if to != "" {
			if err := ast.Save(to, m); err != nil {
				return fmt.Errorf("write %s: %w", to, err)
			}
			return nil
		}
		return ast.Encode(cmd.OutOrStdout(), m, ast.FormatJSON)
	},
}

func init() {
	dumpASTCmd.Flags().String("to", "", "write the module to this file (*.ast.json or *.ast.mp)")
}
