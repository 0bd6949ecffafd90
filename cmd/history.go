// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qcollector/fieldmigrate/pkg/state"
)

func historyCmd() *cobra.Command {
	var limit, offset int
	var status string

	cmd := &cobra.Command{
		Use:       "history <form-id>",
		Short:     "Show a form's migration journal, newest first",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"form-id"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := newRollWithInitCheck(ctx, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			opts := state.ListOptions{Limit: limit, Offset: offset}
			switch status {
			case "":
			case "success":
				opts.Outcome = state.OnlySuccess
			case "failed":
				opts.Outcome = state.OnlyFailed
			default:
				return fmt.Errorf("invalid status filter %q", status)
			}

			entries, total, err := m.ListHistory(ctx, args[0], opts)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]any{
				"migrations": entries,
				"total":      total,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	cmd.Flags().StringVar(&status, "status", "", "Filter by outcome: success or failed")
	return cmd
}
