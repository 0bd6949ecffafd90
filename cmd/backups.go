// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func backupsCmd() *cobra.Command {
	var limit, offset int
	var includeExpired bool

	cmd := &cobra.Command{
		Use:       "backups <form-id>",
		Short:     "List a form's column data backups",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"form-id"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := newRollWithInitCheck(ctx, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			backups, total, err := m.ListBackups(ctx, args[0], includeExpired, limit, offset)
			if err != nil {
				return err
			}

			rows := pterm.TableData{{"ID", "Table", "Column", "Type", "Rows", "Retained until"}}
			for _, b := range backups {
				rows = append(rows, []string{
					b.ID, b.TableName, b.ColumnName, string(b.BackupType),
					pterm.Sprintf("%d", len(b.DataSnapshot)),
					b.RetentionUntil.Format("2006-01-02"),
				})
			}
			pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
			pterm.Printfln("%d of %d backup(s)", len(backups), total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum backups to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Backups to skip")
	cmd.Flags().BoolVar(&includeExpired, "include-expired", false, "Include backups past their retention date")
	return cmd
}
