// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/qcollector/fieldmigrate/cmd/flags"
	"github.com/qcollector/fieldmigrate/pkg/roll"
	"github.com/qcollector/fieldmigrate/pkg/schema"
)

// loadForms reads form definitions from the --forms file (JSON or YAML). An
// empty path yields an empty resolver: commands that do not resolve forms work
// without one.
func loadForms() (roll.FormResolver, error) {
	path := flags.FormsFile()
	if path == "" {
		return roll.NewStaticForms(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading forms file: %w", err)
	}

	var forms []*schema.Form
	if err := yaml.Unmarshal(raw, &forms); err != nil {
		return nil, fmt.Errorf("parsing forms file %q: %w", path, err)
	}
	return roll.NewStaticForms(forms...), nil
}
