// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:       "rollback <migration-id>",
	Short:     "Revert a successful migration using its stored rollback SQL",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"migration-id"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		forms, err := loadForms()
		if err != nil {
			return err
		}

		m, err := newRollWithInitCheck(ctx, forms)
		if err != nil {
			return err
		}
		defer m.Close()

		inverse, err := m.Rollback(ctx, args[0], actorName())
		if err != nil {
			return err
		}

		pterm.Success.Printfln("Reverted %s on %s.%s (inverse entry %s)",
			inverse.MigrationType, inverse.TableName, inverse.ColumnName, inverse.ID)
		return nil
	},
}
