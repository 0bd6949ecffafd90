// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize fieldmigrate, creating the schema that stores migration state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := newRoll(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Init(cmd.Context()); err != nil {
			return err
		}

		pterm.Success.Println("Initialization done! fieldmigrate is ready to be used")
		return nil
	},
}
