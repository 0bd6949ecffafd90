// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
)

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "preview <file>",
		Short:     "Show the SQL a migration plan would execute, without running it",
		Example:   "preview ./plans/add-email.yaml",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"file"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			plan, err := migrations.ReadPlanFile(args[0])
			if err != nil {
				return err
			}

			forms, err := loadForms()
			if err != nil {
				return err
			}

			m, err := newRollWithInitCheck(ctx, forms)
			if err != nil {
				return err
			}
			defer m.Close()

			previews, summary, err := m.PreviewPlan(ctx, plan.FormID, plan.Changes)
			if err != nil {
				return err
			}

			rows := pterm.TableData{{"Type", "Table", "Column", "Valid", "Backup", "SQL"}}
			for _, p := range previews {
				valid := "yes"
				if !p.Valid {
					valid = "no"
				}
				backup := ""
				if p.RequiresBackup {
					backup = "yes"
				}
				rows = append(rows, []string{
					string(p.MigrationType), p.TableName, p.ColumnName, valid, backup, p.SQL,
				})
			}
			pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

			for _, p := range previews {
				for _, w := range p.Warnings {
					pterm.Warning.Printfln("%s: %s", p.ColumnName, w)
				}
			}

			fmt.Printf("%d change(s): %d valid, %d invalid, %d requiring backup\n",
				summary.TotalChanges, summary.ValidChanges,
				summary.InvalidChanges, summary.RequiresBackup)
			return nil
		},
	}
}
