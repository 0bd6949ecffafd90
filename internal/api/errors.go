// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
	"github.com/qcollector/fieldmigrate/pkg/roll"
	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

// Error codes carried in the error envelope. Clients branch on these, not on
// HTTP status alone.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidChanges     = "INVALID_CHANGES"
	CodeFormNotFound       = "FORM_NOT_FOUND"
	CodeNoTable            = "NO_TABLE"
	CodeQueueError         = "QUEUE_ERROR"
	CodeMigrationNotFound  = "MIGRATION_NOT_FOUND"
	CodeRollbackNotAllowed = "ROLLBACK_NOT_ALLOWED"
	CodeRollbackFailed     = "ROLLBACK_FAILED"
	CodeBackupNotFound     = "BACKUP_NOT_FOUND"
	CodeBackupExpired      = "BACKUP_EXPIRED"
	CodeRestoreFailed      = "RESTORE_FAILED"
	CodeCleanupFailed      = "CLEANUP_FAILED"
	CodeForbidden          = "FORBIDDEN"
	CodeInternal           = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// respondValidation rejects a request whose parameters are malformed before
// any core call is made.
func respondValidation(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope{
		Error: errorBody{Code: CodeValidationError, Message: message},
	})
}

// respondError maps a core error to the common envelope. fallback names the
// code used for errors the taxonomy does not classify, so each handler fails
// with its own operation-specific code.
func respondError(c *gin.Context, err error, fallback string) {
	status, code, details := classify(err)
	if code == CodeInternal && fallback != "" {
		code = fallback
	}
	c.AbortWithStatusJSON(status, errorEnvelope{
		Error: errorBody{Code: code, Message: err.Error(), Details: details},
	})
}

func classify(err error) (int, string, any) {
	var (
		emptyPlan     migrations.EmptyPlanError
		invalidPlan   migrations.InvalidPlanError
		unknownChange migrations.UnknownChangeTypeError
		unsupported   migrations.UnsupportedConversionError
		dataLoss      migrations.ConversionDataLossError
		notAllowed    migrations.RollbackNotAllowedError
		sqlRejected   migrations.RollbackSQLRejectedError

		badIdentifier schema.InvalidIdentifierError
		unknownType   schema.UnknownFieldTypeError
		tableMissing  schema.TableDoesNotExistError
		columnMissing schema.ColumnDoesNotExistError
		columnExists  schema.ColumnAlreadyExistsError
		formNotFound  schema.FormNotFoundError
		noTable       schema.NoTableError
		noPK          schema.NoPrimaryKeyError

		migNotFound   state.MigrationNotFoundError
		backupMissing state.BackupNotFoundError
		backupExpired state.BackupExpiredError
		badRetention  state.InvalidRetentionError
		jobNotFound   state.JobNotFoundError

		restoreFailed roll.RestoreFailedError
	)

	switch {
	case errors.As(err, &emptyPlan), errors.As(err, &invalidPlan),
		errors.As(err, &badRetention):
		return http.StatusBadRequest, CodeValidationError, nil
	case errors.As(err, &dataLoss):
		return http.StatusBadRequest, CodeInvalidChanges, gin.H{"violations": dataLoss.Violations}
	case errors.As(err, &unknownChange), errors.As(err, &unsupported),
		errors.As(err, &badIdentifier), errors.As(err, &unknownType),
		errors.As(err, &tableMissing), errors.As(err, &columnMissing),
		errors.As(err, &columnExists), errors.As(err, &noPK):
		return http.StatusBadRequest, CodeInvalidChanges, nil
	case errors.As(err, &formNotFound):
		return http.StatusNotFound, CodeFormNotFound, nil
	case errors.As(err, &noTable):
		return http.StatusBadRequest, CodeNoTable, nil
	case errors.As(err, &migNotFound):
		return http.StatusNotFound, CodeMigrationNotFound, nil
	case errors.As(err, &notAllowed), errors.As(err, &sqlRejected):
		return http.StatusBadRequest, CodeRollbackNotAllowed, nil
	case errors.As(err, &backupMissing), errors.As(err, &jobNotFound):
		return http.StatusNotFound, CodeBackupNotFound, nil
	case errors.As(err, &backupExpired):
		return http.StatusGone, CodeBackupExpired, nil
	case errors.As(err, &restoreFailed):
		return http.StatusInternalServerError, CodeRestoreFailed, nil
	}
	return http.StatusInternalServerError, CodeInternal, nil
}
