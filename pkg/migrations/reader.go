// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"sigs.k8s.io/yaml"
)

//go:embed plan.schema.json
var planSchemaJSON []byte

// PlanFile is the on-disk form of a migration plan, accepted as JSON or YAML.
type PlanFile struct {
	FormID  string `json:"formId"`
	Changes Plan   `json:"changes"`
}

var planSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(planSchemaJSON))
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("plan.schema.json")
})

// ReadPlanFile loads and validates a plan from a .json, .yaml or .yml file.
func ReadPlanFile(path string) (*PlanFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if raw, err = yaml.YAMLToJSON(raw); err != nil {
			return nil, fmt.Errorf("invalid YAML in %q: %w", path, err)
		}
	}

	return ParsePlan(raw)
}

// ParsePlan validates raw JSON against the plan schema and decodes it.
func ParsePlan(raw []byte) (*PlanFile, error) {
	sch, err := planSchema()
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("plan does not match schema: %w", err)
	}

	var plan PlanFile
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, err
	}
	if len(plan.Changes) == 0 {
		return nil, EmptyPlanError{}
	}

	return &plan, nil
}
