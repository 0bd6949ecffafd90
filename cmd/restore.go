// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:       "restore <backup-id>",
	Short:     "Restore a column's data from a backup",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"backup-id"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout())
		defer cancel()

		m, err := newRollWithInitCheck(ctx, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		// The restore goes through the form's queue; process it here.
		if err := m.Start(ctx); err != nil {
			return err
		}

		sp, _ := pterm.DefaultSpinner.WithText("Restoring backup...").Start()
		res, err := m.Restore(ctx, args[0], actorName())
		if err != nil {
			sp.Fail(fmt.Sprintf("Restore failed: %s", err))
			return err
		}

		sp.Success(fmt.Sprintf("Restored %d row(s) to %s.%s",
			res.RestoredRows, res.TableName, res.ColumnName))
		return nil
	},
}
