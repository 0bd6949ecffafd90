// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var formID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration queue status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			m, err := newRollWithInitCheck(ctx, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			st, err := m.Status(ctx, formID)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&formID, "form", "", "Restrict to one form")
	return cmd
}
