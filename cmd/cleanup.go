// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qcollector/fieldmigrate/pkg/state"
)

func cleanupCmd() *cobra.Command {
	var days int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired backups and old successful journal entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			m, err := newRollWithInitCheck(ctx, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			report, err := m.Cleanup(ctx, days, dryRun)
			if err != nil {
				return err
			}

			if report.DryRun {
				pterm.Info.Printfln("Would delete %d backup(s) older than %s",
					report.DeletedBackups, report.CutoffDate.Format("2006-01-02"))
				for _, b := range report.Samples {
					pterm.Printfln("  %s  %s.%s  expired %s",
						b.ID, b.TableName, b.ColumnName,
						b.RetentionUntil.Format("2006-01-02"))
				}
				return nil
			}

			verb := "Deleted"
			if report.Tombstoned {
				verb = "Tombstoned"
			}
			pterm.Success.Printfln("%s %d backup(s) and deleted %d journal entr(ies) older than %s",
				verb, report.DeletedBackups, report.DeletedJournal,
				report.CutoffDate.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", state.DefaultRetentionDays, "Minimum age in days of backups to delete")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")
	return cmd
}
