package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"lowerc/internal/target"
)

type targetRow struct {
	Name       string `json:"name"`
	Triple     string `json:"triple"`
	PtrSize    uint32 `json:"ptr_size"`
	DataLayout string `json:"data_layout"`
}

var targetsCmd = &cobra.Command{
	Use:   "targets [file.toml]",
	Short: "List built-in targets, or validate a target description",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, err := cmd.Flags().GetBool("json")
		if err != nil {
			return err
		}
		var rows []targetRow
		if len(args) == 1 {
			tgt, err := target.Load(args[0])
			if err != nil {
				return err
			}
			rows = append(rows, rowOf(tgt))
		} else {
			for _, name := range target.Names() {
				tgt, err := target.Lookup(name)
				if err != nil {
					return err
				}
				rows = append(rows, rowOf(tgt))
			}
		}
		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		for _, r := range rows {
			fmt.Fprintf(out, "%-20s %-28s ptr=%d\n", r.Name, r.Triple, r.PtrSize)
		}
		return nil
	},
}

func init() {
	targetsCmd.Flags().Bool("json", false, "print as JSON")
}

func rowOf(t *target.Target) targetRow {
	return targetRow{Name: t.Name, Triple: t.Triple, PtrSize: t.PtrSize, DataLayout: t.DataLayout}
}
