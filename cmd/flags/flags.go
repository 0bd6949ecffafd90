// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"time"

	"github.com/spf13/viper"
)

func PostgresURL() string {
	return viper.GetString("PG_URL")
}

func StateSchema() string {
	return viper.GetString("STATE_SCHEMA")
}

func RetentionDays() int {
	return viper.GetInt("RETENTION_DAYS")
}

func MaxAttempts() int {
	return viper.GetInt("MAX_ATTEMPTS")
}

func DDLTimeout() time.Duration {
	return viper.GetDuration("DDL_TIMEOUT")
}

func Workers() int {
	return viper.GetInt("WORKERS")
}

func CleanupTombstone() bool {
	return viper.GetBool("CLEANUP_TOMBSTONE")
}

func HTTPAddress() string {
	return viper.GetString("HTTP_ADDR")
}

func FormsFile() string {
	return viper.GetString("FORMS_FILE")
}

func Verbose() bool {
	return viper.GetBool("VERBOSE")
}
