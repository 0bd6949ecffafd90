// SPDX-License-Identifier: Apache-2.0

// Package roll is the top-level entry point for field migrations: it owns the
// state connection, the DDL executor and the queue runner, and exposes the
// operations the HTTP API and the CLI are built on.
package roll

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
	"github.com/qcollector/fieldmigrate/pkg/queue"
	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

const restorePollInterval = 200 * time.Millisecond

// DefaultMaxAttempts is how many times a queued job is attempted before it
// fails terminally.
const DefaultMaxAttempts = 3

// Roll glues the migration core together. Construct one per process with New;
// all dependencies are explicit.
type Roll struct {
	state    *state.State
	executor *migrations.Executor
	runner   *queue.Runner
	forms    FormResolver
	logger   *slog.Logger

	maxAttempts   int
	retentionDays int
	ddlTimeout    time.Duration
	workers       int
	pollInterval  time.Duration
	notifier      queue.Notifier
	tombstone     bool
	now           func() time.Time
}

type Option func(*Roll)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Roll) {
		r.logger = logger
	}
}

func WithMaxAttempts(n int) Option {
	return func(r *Roll) {
		r.maxAttempts = n
	}
}

func WithRetentionDays(days int) Option {
	return func(r *Roll) {
		r.retentionDays = days
	}
}

func WithDDLTimeout(d time.Duration) Option {
	return func(r *Roll) {
		r.ddlTimeout = d
	}
}

func WithWorkers(n int) Option {
	return func(r *Roll) {
		r.workers = n
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Roll) {
		r.pollInterval = d
	}
}

func WithNotifier(n queue.Notifier) Option {
	return func(r *Roll) {
		r.notifier = n
	}
}

// WithTombstoneCleanup makes the retention sweep keep backup rows for audit,
// clearing their snapshots instead of deleting them.
func WithTombstoneCleanup(enabled bool) Option {
	return func(r *Roll) {
		r.tombstone = enabled
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(r *Roll) {
		r.now = now
	}
}

// New connects to Postgres and wires the executor and runner. The runner does
// not process jobs until Start is called.
func New(ctx context.Context, pgURL, stateSchema string, forms FormResolver, opts ...Option) (*Roll, error) {
	r := &Roll{
		forms:         forms,
		logger:        slog.Default(),
		maxAttempts:   DefaultMaxAttempts,
		retentionDays: state.DefaultRetentionDays,
		ddlTimeout:    migrations.DefaultDDLTimeout,
		workers:       queue.DefaultMaxWorkers,
		pollInterval:  queue.DefaultPollInterval,
		now:           time.Now,
	}
	for _, o := range opts {
		o(r)
	}

	if err := state.ValidateRetentionDays(r.retentionDays); err != nil {
		return nil, err
	}

	st, err := state.New(ctx, pgURL, stateSchema)
	if err != nil {
		return nil, err
	}
	r.init(st)
	return r, nil
}

// NewWithState wires a Roll around an existing state handle. Tests use this to
// share one database across components.
func NewWithState(st *state.State, forms FormResolver, opts ...Option) *Roll {
	r := &Roll{
		forms:         forms,
		logger:        slog.Default(),
		maxAttempts:   DefaultMaxAttempts,
		retentionDays: state.DefaultRetentionDays,
		ddlTimeout:    migrations.DefaultDDLTimeout,
		workers:       queue.DefaultMaxWorkers,
		pollInterval:  queue.DefaultPollInterval,
		now:           time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.init(st)
	return r
}

func (r *Roll) init(st *state.State) {
	r.state = st
	r.executor = migrations.NewExecutor(st,
		migrations.WithRetentionDays(r.retentionDays),
		migrations.WithDDLTimeout(r.ddlTimeout),
		migrations.WithLogger(r.logger))

	queueOpts := []queue.Option{
		queue.WithLogger(r.logger),
		queue.WithMaxWorkers(r.workers),
		queue.WithPollInterval(r.pollInterval),
	}
	if r.notifier != nil {
		queueOpts = append(queueOpts, queue.WithNotifier(r.notifier))
	}
	r.runner = queue.NewRunner(st, r.executor, queueOpts...)
}

// Init creates the migration state schema if it does not exist.
func (r *Roll) Init(ctx context.Context) error {
	return r.state.Init(ctx)
}

// Start begins processing queued jobs.
func (r *Roll) Start(ctx context.Context) error {
	return r.runner.Start(ctx)
}

// Close stops the runner, waits for in-flight jobs and closes the database
// connection.
func (r *Roll) Close() error {
	r.runner.Stop()
	return r.state.Close()
}

// State exposes the underlying state store for read paths the facade does not
// wrap.
func (r *Roll) State() *state.State {
	return r.state
}

// QueuedJob describes a change accepted onto a form's queue.
type QueuedJob struct {
	JobID         string                `json:"jobId"`
	Type          migrations.ChangeKind `json:"type"`
	TableName     string                `json:"tableName,omitempty"`
	ColumnName    string                `json:"columnName,omitempty"`
	QueuePosition int                   `json:"queuePosition"`
}

// PreviewPlan resolves each change in the plan dry-run: the SQL that would
// execute, the rollback SQL, validation warnings. Nothing is written.
func (r *Roll) PreviewPlan(ctx context.Context, formID string, plan migrations.Plan) ([]migrations.ChangePreview, migrations.PreviewSummary, error) {
	if len(plan) == 0 {
		return nil, migrations.PreviewSummary{}, migrations.EmptyPlanError{}
	}
	if _, err := r.forms.FormByID(ctx, formID); err != nil {
		return nil, migrations.PreviewSummary{}, err
	}
	return migrations.PreviewPlan(ctx, r.state.DB(), plan)
}

// ExecutePlan validates every change against the live catalog and data, then
// enqueues the plan onto the form's queue in order and wakes the runner. An
// invalid change rejects the whole plan synchronously with its typed error and
// nothing is enqueued. It returns as soon as the jobs are durable; execution
// is asynchronous.
func (r *Roll) ExecutePlan(ctx context.Context, formID string, plan migrations.Plan, actor string) ([]QueuedJob, error) {
	if len(plan) == 0 {
		return nil, migrations.EmptyPlanError{}
	}
	if _, err := r.forms.FormByID(ctx, formID); err != nil {
		return nil, err
	}
	if err := r.validatePlan(ctx, plan); err != nil {
		return nil, err
	}
	return r.enqueuePlan(ctx, formID, plan, actor)
}

var errPlanValidated = errors.New("plan validation rollback")

// validatePlan dry-runs the plan inside a transaction that is always rolled
// back, so every change is checked the way it will execute and the live table
// is untouched.
func (r *Roll) validatePlan(ctx context.Context, plan migrations.Plan) error {
	var planErr error
	err := r.state.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		planErr = migrations.ValidatePlan(ctx, tx, plan)
		return errPlanValidated
	})
	if planErr != nil {
		return planErr
	}
	if err != nil && !errors.Is(err, errPlanValidated) {
		return err
	}
	return nil
}

// UpdateFormFields diffs a form's fields as they were before the save against
// the desired set and enqueues the resulting primitive changes. This is the
// path form designers hit on save: the form definition has already been
// committed, so the resolver only supplies the table name and the caller gets
// queued-job handles back, not results.
func (r *Roll) UpdateFormFields(ctx context.Context, formID string, oldFields, newFields []schema.Field, actor string) ([]QueuedJob, error) {
	form, err := r.forms.FormByID(ctx, formID)
	if err != nil {
		return nil, err
	}

	plan, err := migrations.Detect(form, oldFields, newFields)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return []QueuedJob{}, nil
	}
	return r.enqueuePlan(ctx, formID, plan, actor)
}

func (r *Roll) enqueuePlan(ctx context.Context, formID string, plan migrations.Plan, actor string) ([]QueuedJob, error) {
	queued := make([]QueuedJob, 0, len(plan))
	for i := range plan {
		change := plan[i]
		raw, err := change.MarshalJSON()
		if err != nil {
			return queued, err
		}

		job := &state.Job{
			ID:          uuid.NewString(),
			FormID:      formID,
			Change:      raw,
			MaxAttempts: r.maxAttempts,
			EnqueuedBy:  actor,
		}
		if _, err := r.state.EnqueueJob(ctx, job); err != nil {
			return queued, err
		}

		pos, err := r.state.QueuePosition(ctx, job)
		if err != nil {
			return queued, err
		}

		queued = append(queued, QueuedJob{
			JobID:         job.ID,
			Type:          change.Type,
			TableName:     change.TableName(),
			ColumnName:    change.ColumnName(),
			QueuePosition: pos,
		})
	}

	r.runner.Wake(formID)
	return queued, nil
}

// Rollback replays a journal entry's rollback SQL synchronously. The caller
// gets the inverse journal entry back, or a reason why the rollback is not
// allowed.
func (r *Roll) Rollback(ctx context.Context, migrationID, actor string) (*state.FieldMigration, error) {
	m, err := r.state.GetMigration(ctx, migrationID)
	if err != nil {
		return nil, err
	}

	form, err := r.forms.FormByID(ctx, m.FormID)
	if err != nil {
		return nil, err
	}
	return r.executor.ExecuteRollback(ctx, m, form.Fields, actor)
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	BackupID     string `json:"backupId"`
	TableName    string `json:"tableName"`
	ColumnName   string `json:"columnName"`
	RestoredRows int    `json:"restoredRows"`
}

// RestoreFailedError carries the terminal error of a failed restore job.
type RestoreFailedError struct {
	BackupID string
	Reason   string
}

func (e RestoreFailedError) Error() string {
	return fmt.Sprintf("restore of backup %q failed: %s", e.BackupID, e.Reason)
}

// Restore re-applies a backup's snapshot to its column. The job goes through
// the form's queue like any other change, so it cannot interleave with queued
// DDL; Restore waits for the job to finish and reports the row count.
func (r *Roll) Restore(ctx context.Context, backupID, actor string) (*RestoreResult, error) {
	b, err := r.state.GetBackup(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if !r.now().Before(b.RetentionUntil) {
		return nil, state.BackupExpiredError{ID: b.ID, RetentionUntil: b.RetentionUntil}
	}

	change := migrations.Change{
		Type:    migrations.ChangeRestore,
		Restore: &migrations.OpRestoreBackup{BackupID: backupID},
	}
	raw, err := change.MarshalJSON()
	if err != nil {
		return nil, err
	}

	job := &state.Job{
		ID:          uuid.NewString(),
		FormID:      b.FormID,
		Change:      raw,
		MaxAttempts: r.maxAttempts,
		EnqueuedBy:  actor,
	}
	if _, err := r.state.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	r.runner.Wake(b.FormID)

	final, err := r.waitForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if final.Status != state.JobCompleted {
		reason := "unknown"
		if final.LastError != nil {
			reason = *final.LastError
		}
		return nil, RestoreFailedError{BackupID: backupID, Reason: reason}
	}

	rows, err := r.restoredRows(ctx, b)
	if err != nil {
		return nil, err
	}
	return &RestoreResult{
		BackupID:     b.ID,
		TableName:    b.TableName,
		ColumnName:   b.ColumnName,
		RestoredRows: rows,
	}, nil
}

// waitForJob polls until the job leaves the queue's live states or the context
// expires.
func (r *Roll) waitForJob(ctx context.Context, jobID string) (*state.Job, error) {
	ticker := time.NewTicker(restorePollInterval)
	defer ticker.Stop()

	for {
		job, err := r.state.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status != state.JobWaiting && job.Status != state.JobActive {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// restoredRows reads the row count off the restore's journal entry.
func (r *Roll) restoredRows(ctx context.Context, b *state.FieldDataBackup) (int, error) {
	entries, _, err := r.state.MigrationsByForm(ctx, b.FormID,
		state.ListOptions{Limit: 50, Outcome: state.OnlySuccess})
	if err != nil {
		return 0, err
	}
	for i := range entries {
		e := &entries[i]
		if e.MigrationType == state.MigrationRestore &&
			e.BackupID != nil && *e.BackupID == b.ID && e.NewValue != nil {
			return e.NewValue.RestoredRows, nil
		}
	}
	return 0, fmt.Errorf("journal entry for restore of backup %q not found", b.ID)
}

// ListHistory returns a form's journal entries, newest first.
func (r *Roll) ListHistory(ctx context.Context, formID string, opts state.ListOptions) ([]state.FieldMigration, int, error) {
	return r.state.MigrationsByForm(ctx, formID, opts)
}

// GetMigration returns one journal entry by id.
func (r *Roll) GetMigration(ctx context.Context, id string) (*state.FieldMigration, error) {
	return r.state.GetMigration(ctx, id)
}

// ListBackups returns a form's backups, optionally including expired ones.
func (r *Roll) ListBackups(ctx context.Context, formID string, includeExpired bool, limit, offset int) ([]state.FieldDataBackup, int, error) {
	return r.state.ListBackupsByForm(ctx, formID, includeExpired, limit, offset)
}

// GetBackup returns one backup by id, snapshot included.
func (r *Roll) GetBackup(ctx context.Context, id string) (*state.FieldDataBackup, error) {
	return r.state.GetBackup(ctx, id)
}

// QueueStatus is the live view of one form's queue.
type QueueStatus struct {
	FormID string             `json:"formId,omitempty"`
	Counts *state.QueueCounts `json:"counts"`
	Active *state.Job         `json:"activeJob,omitempty"`
}

// Status reports queue counts, globally or for one form.
func (r *Roll) Status(ctx context.Context, formID string) (*QueueStatus, error) {
	counts, err := r.state.Counts(ctx, formID)
	if err != nil {
		return nil, err
	}

	st := &QueueStatus{FormID: formID, Counts: counts}
	if formID != "" {
		active, err := r.state.ActiveJob(ctx, formID)
		if err != nil {
			return nil, err
		}
		st.Active = active
	}
	return st, nil
}

// CancelJob cancels a waiting job. It reports false when the job had already
// started or finished.
func (r *Roll) CancelJob(ctx context.Context, jobID string) (bool, error) {
	return r.state.CancelWaitingJob(ctx, jobID)
}

// CleanupReport summarizes a retention sweep. In dry-run mode nothing is
// deleted and Samples holds up to ten of the backups that would go.
type CleanupReport struct {
	DryRun         bool                    `json:"dryRun"`
	Tombstoned     bool                    `json:"tombstoned,omitempty"`
	CutoffDate     time.Time               `json:"cutoffDate"`
	DeletedBackups int64                   `json:"deletedBackups"`
	DeletedJournal int64                   `json:"deletedJournalEntries"`
	Samples        []state.FieldDataBackup `json:"samples,omitempty"`
}

// Cleanup deletes expired backups older than the given age, and successful
// journal entries older than the same cutoff. A backup still inside its
// retention window is never deleted, whatever the age argument says.
func (r *Roll) Cleanup(ctx context.Context, days int, dryRun bool) (*CleanupReport, error) {
	if err := state.ValidateRetentionDays(days); err != nil {
		return nil, err
	}
	ageCutoff := r.now().AddDate(0, 0, -days)

	if dryRun {
		n, err := r.state.CountExpired(ctx, ageCutoff)
		if err != nil {
			return nil, err
		}
		samples, err := r.state.ExpiredSamples(ctx, ageCutoff, 10)
		if err != nil {
			return nil, err
		}
		return &CleanupReport{
			DryRun:         true,
			CutoffDate:     ageCutoff,
			DeletedBackups: int64(n),
			Samples:        samples,
		}, nil
	}

	sweep := r.state.SweepExpired
	if r.tombstone {
		sweep = r.state.TombstoneExpired
	}
	backups, err := sweep(ctx, ageCutoff)
	if err != nil {
		return nil, err
	}
	journal, err := r.state.DeleteSuccessfulMigrationsBefore(ctx, ageCutoff)
	if err != nil {
		return nil, err
	}

	r.logger.Info("retention cleanup",
		slog.Int64("backups", backups),
		slog.Int64("journalEntries", journal),
		slog.Bool("tombstone", r.tombstone))
	return &CleanupReport{
		Tombstoned:     r.tombstone,
		CutoffDate:     ageCutoff,
		DeletedBackups: backups,
		DeletedJournal: journal,
	}, nil
}

// IsFormNotFound reports whether the error is a missing-form error from the
// resolver.
func IsFormNotFound(err error) bool {
	var notFound schema.FormNotFoundError
	return errors.As(err, &notFound)
}
