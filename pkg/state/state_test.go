// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcollector/fieldmigrate/pkg/state"
	"github.com/qcollector/fieldmigrate/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestInitIsIdempotent(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, db *sql.DB) {
		ctx := context.Background()

		ok, err := st.IsInitialized(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		// A second init must be a no-op.
		require.NoError(t, st.Init(ctx))

		var tables int
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT count(*) FROM information_schema.tables WHERE table_schema = $1`,
			st.Schema()).Scan(&tables))
		assert.Equal(t, 3, tables)
	})
}

func TestIsInitializedFalseBeforeInit(t *testing.T) {
	t.Parallel()

	testutils.WithUninitializedState(t, func(st *state.State) {
		ok, err := st.IsInitialized(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestValidateRetentionDays(t *testing.T) {
	t.Parallel()

	assert.NoError(t, state.ValidateRetentionDays(30))
	assert.NoError(t, state.ValidateRetentionDays(90))
	assert.NoError(t, state.ValidateRetentionDays(365))

	var invalid state.InvalidRetentionError
	assert.ErrorAs(t, state.ValidateRetentionDays(29), &invalid)
	assert.ErrorAs(t, state.ValidateRetentionDays(366), &invalid)
	assert.ErrorAs(t, state.ValidateRetentionDays(0), &invalid)
}
