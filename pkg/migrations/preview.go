// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"errors"

	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

// ChangePreview is the would-be outcome of one change: the SQL it would run,
// the rollback that would be journaled, and whether it would pass validation.
type ChangePreview struct {
	Change         Change              `json:"change"`
	MigrationType  state.MigrationType `json:"migrationType"`
	TableName      string              `json:"tableName"`
	ColumnName     string              `json:"columnName"`
	SQL            string              `json:"sql,omitempty"`
	RollbackSQL    string              `json:"rollbackSql,omitempty"`
	Valid          bool                `json:"valid"`
	Warnings       []string            `json:"warnings,omitempty"`
	RequiresBackup bool                `json:"requiresBackup"`
}

// PreviewSummary aggregates a plan preview.
type PreviewSummary struct {
	TotalChanges   int `json:"totalChanges"`
	ValidChanges   int `json:"validChanges"`
	InvalidChanges int `json:"invalidChanges"`
	RequiresBackup int `json:"requiresBackup"`
}

// PreviewPlan resolves every change in the plan without executing anything. It
// reads the catalog (and, for type changes, existing column values) but never
// touches table schemas: identical inputs against identical data yield
// identical previews.
func PreviewPlan(ctx context.Context, q schema.Querier, plan Plan) ([]ChangePreview, PreviewSummary, error) {
	previews := make([]ChangePreview, 0, len(plan))
	summary := PreviewSummary{TotalChanges: len(plan)}

	for _, change := range plan {
		p, err := previewChange(ctx, q, change)
		if err != nil {
			return nil, PreviewSummary{}, err
		}

		if p.Valid {
			summary.ValidChanges++
		} else {
			summary.InvalidChanges++
		}
		if p.RequiresBackup {
			summary.RequiresBackup++
		}

		previews = append(previews, *p)
	}

	return previews, summary, nil
}

func previewChange(ctx context.Context, q schema.Querier, change Change) (*ChangePreview, error) {
	p := &ChangePreview{
		Change:        change,
		MigrationType: journalType(change.Type),
		TableName:     change.TableName(),
		ColumnName:    change.ColumnName(),
	}

	if change.Type == ChangeRestore {
		// Restores replay backup data rather than DDL; there is no SQL to
		// show ahead of time.
		p.Valid = true
		p.Warnings = []string{"restore replays backup data; no SQL preview"}
		return p, nil
	}

	rv, err := change.resolver()
	if err != nil {
		p.Warnings = []string{err.Error()}
		return p, nil
	}

	r, err := rv.resolve(ctx, q)
	if err != nil {
		if !IsStructural(err) {
			return nil, err
		}

		var dataLoss ConversionDataLossError
		if errors.As(err, &dataLoss) {
			p.Warnings = dataLoss.Violations
		} else {
			p.Warnings = []string{err.Error()}
		}
		return p, nil
	}

	p.Valid = true
	p.TableName = r.tableName
	p.ColumnName = r.columnName
	p.SQL = r.ddl
	p.RollbackSQL = r.rollbackSQL
	p.RequiresBackup = r.requiresBackup
	return p, nil
}
