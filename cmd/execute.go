// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
	"github.com/qcollector/fieldmigrate/pkg/roll"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

func executeCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:       "execute <file>",
		Short:     "Queue a migration plan for execution",
		Example:   "execute ./plans/add-email.yaml --wait",
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

			queued, err := m.ExecutePlan(ctx, plan.FormID, plan.Changes, actorName())
			if err != nil {
				return err
			}
			for _, j := range queued {
				pterm.Info.Printfln("queued %s on %s.%s (job %s, position %d)",
					j.Type, j.TableName, j.ColumnName, j.JobID, j.QueuePosition)
			}

			if !wait {
				fmt.Printf("%d change(s) queued for form %s\n", len(queued), plan.FormID)
				return nil
			}

			// Run the queue in-process until every job from this plan settles.
			if err := m.Start(ctx); err != nil {
				return err
			}
			sp, _ := pterm.DefaultSpinner.WithText("Applying migrations...").Start()
			if err := waitForJobs(ctx, m.State(), queued); err != nil {
				sp.Fail(fmt.Sprintf("Migration failed: %s", err))
				return err
			}
			sp.Success("All changes applied")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Process the queue in this process and wait for completion")
	return cmd
}

// waitForJobs polls until every queued job settles, failing on the first job
// that does not complete.
func waitForJobs(ctx context.Context, st *state.State, queued []roll.QueuedJob) error {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout())
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	pending := make(map[string]struct{}, len(queued))
	for _, j := range queued {
		pending[j.JobID] = struct{}{}
	}

	for len(pending) > 0 {
		for id := range pending {
			job, err := st.GetJob(ctx, id)
			if err != nil {
				return err
			}
			switch job.Status {
			case state.JobCompleted:
				delete(pending, id)
			case state.JobFailed, state.JobCancelled:
				reason := string(job.Status)
				if job.LastError != nil {
					reason = *job.LastError
				}
				return fmt.Errorf("job %s did not complete: %s", id, reason)
			}
		}

		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
