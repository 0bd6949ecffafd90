// SPDX-License-Identifier: Apache-2.0

// Package api exposes the migration core over HTTP/JSON. It is a thin layer:
// every operation delegates to roll.Roll and translates core errors into the
// common envelope.
package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
	"github.com/qcollector/fieldmigrate/pkg/roll"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	defaultCleanupDays = 90
)

type Handler struct {
	roll *roll.Roll
}

func NewHandler(r *roll.Roll) *Handler {
	return &Handler{roll: r}
}

// Preview handles POST /migrations/preview.
func (h *Handler) Preview(c *gin.Context) {
	plan, ok := h.bindPlan(c)
	if !ok {
		return
	}

	previews, summary, err := h.roll.PreviewPlan(c.Request.Context(), plan.FormID, plan.Changes)
	if err != nil {
		respondError(c, err, CodeValidationError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"preview": previews,
		"summary": summary,
	})
}

// Execute handles POST /migrations/execute.
func (h *Handler) Execute(c *gin.Context) {
	plan, ok := h.bindPlan(c)
	if !ok {
		return
	}

	queued, err := h.roll.ExecutePlan(c.Request.Context(), plan.FormID, plan.Changes, actorFrom(c))
	if err != nil {
		respondError(c, err, CodeQueueError)
		return
	}

	jobs := make([]gin.H, 0, len(queued))
	for _, j := range queued {
		jobs = append(jobs, gin.H{
			"jobId":         j.JobID,
			"type":          j.Type,
			"columnName":    j.ColumnName,
			"status":        "queued",
			"queuePosition": j.QueuePosition,
		})
	}

	c.JSON(http.StatusCreated, gin.H{
		"queuedJobs": jobs,
		"message":    fmt.Sprintf("%d change(s) queued for form %s", len(jobs), plan.FormID),
	})
}

// History handles GET /migrations/history/:formId.
func (h *Handler) History(c *gin.Context) {
	formID := c.Param("formId")
	limit, offset, ok := pagination(c, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		return
	}

	opts := state.ListOptions{Limit: limit, Offset: offset}
	switch c.Query("status") {
	case "":
		opts.Outcome = state.AnyOutcome
	case "success":
		opts.Outcome = state.OnlySuccess
	case "failed":
		opts.Outcome = state.OnlyFailed
	default:
		respondValidation(c, "status must be one of success, failed")
		return
	}

	entries, total, err := h.roll.ListHistory(c.Request.Context(), formID, opts)
	if err != nil {
		respondError(c, err, CodeInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"migrations": entries,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
		"hasMore":    offset+len(entries) < total,
	})
}

// Rollback handles POST /migrations/rollback/:migrationId.
func (h *Handler) Rollback(c *gin.Context) {
	migrationID := c.Param("migrationId")

	inverse, err := h.roll.Rollback(c.Request.Context(), migrationID, actorFrom(c))
	if err != nil {
		respondError(c, err, CodeRollbackFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"migrationId":         migrationID,
		"rollbackMigrationId": inverse.ID,
		"description": fmt.Sprintf("reverted %s on %s.%s",
			inverse.MigrationType, inverse.TableName, inverse.ColumnName),
		"message": "migration rolled back",
	})
}

// Backups handles GET /migrations/backups/:formId.
func (h *Handler) Backups(c *gin.Context) {
	formID := c.Param("formId")
	limit, offset, ok := pagination(c, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		return
	}
	includeExpired := c.Query("includeExpired") == "true"

	backups, total, err := h.roll.ListBackups(c.Request.Context(), formID, includeExpired, limit, offset)
	if err != nil {
		respondError(c, err, CodeInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backups": backups,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
		"hasMore": offset+len(backups) < total,
	})
}

// Restore handles POST /migrations/restore/:backupId. The call is synchronous:
// it returns once the queued restore job has run.
func (h *Handler) Restore(c *gin.Context) {
	backupID := c.Param("backupId")

	res, err := h.roll.Restore(c.Request.Context(), backupID, actorFrom(c))
	if err != nil {
		respondError(c, err, CodeRestoreFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backupId":     res.BackupID,
		"restoredRows": res.RestoredRows,
		"tableName":    res.TableName,
		"columnName":   res.ColumnName,
		"message":      fmt.Sprintf("restored %d row(s)", res.RestoredRows),
	})
}

// QueueStatus handles GET /migrations/queue/status.
func (h *Handler) QueueStatus(c *gin.Context) {
	formID := c.Query("formId")

	st, err := h.roll.Status(c.Request.Context(), formID)
	if err != nil {
		respondError(c, err, CodeQueueError)
		return
	}

	body := gin.H{"queue": st.Counts}
	if formID != "" {
		body["formId"] = formID
		if st.Active != nil {
			body["activeJob"] = st.Active
		}
	}
	c.JSON(http.StatusOK, body)
}

// Cleanup handles DELETE /migrations/cleanup.
func (h *Handler) Cleanup(c *gin.Context) {
	days := defaultCleanupDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondValidation(c, "days must be an integer")
			return
		}
		days = n
	}
	dryRun := c.Query("dryRun") == "true"

	report, err := h.roll.Cleanup(c.Request.Context(), days, dryRun)
	if err != nil {
		respondError(c, err, CodeCleanupFailed)
		return
	}

	cutoff := report.CutoffDate
	if dryRun {
		c.JSON(http.StatusOK, gin.H{
			"wouldDeleteCount": report.DeletedBackups,
			"cutoffDate":       cutoff,
			"days":             days,
			"samples":          report.Samples,
			"message":          "dry run; nothing deleted",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deletedCount": report.DeletedBackups,
		"cutoffDate":   cutoff,
		"days":         days,
		"message": fmt.Sprintf("deleted %d backup(s) and %d journal entr(ies)",
			report.DeletedBackups, report.DeletedJournal),
	})
}

// bindPlan reads and validates a {formId, changes[]} body against the plan
// schema.
func (h *Handler) bindPlan(c *gin.Context) (*migrations.PlanFile, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondValidation(c, "unable to read request body: "+err.Error())
		return nil, false
	}

	plan, err := migrations.ParsePlan(raw)
	if err != nil {
		respondError(c, err, CodeValidationError)
		return nil, false
	}
	return plan, true
}

func pagination(c *gin.Context, def, max int) (limit, offset int, ok bool) {
	limit = def
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondValidation(c, "limit must be a positive integer")
			return 0, 0, false
		}
		if n > max {
			n = max
		}
		limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondValidation(c, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
