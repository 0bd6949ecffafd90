// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcollector/fieldmigrate/pkg/state"
	"github.com/qcollector/fieldmigrate/pkg/testutils"
)

func enqueue(t *testing.T, st *state.State, formID string) *state.Job {
	t.Helper()

	job := &state.Job{
		ID:         uuid.NewString(),
		FormID:     formID,
		Change:     json.RawMessage(`{"type":"ADD_FIELD"}`),
		EnqueuedBy: "tester",
	}
	_, err := st.EnqueueJob(context.Background(), job)
	require.NoError(t, err)
	return job
}

func TestEnqueueAssignsMonotonicSeq(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		a := enqueue(t, st, "form-1")
		b := enqueue(t, st, "form-1")
		c := enqueue(t, st, "form-1")

		assert.Less(t, a.Seq, b.Seq)
		assert.Less(t, b.Seq, c.Seq)
		assert.Equal(t, state.JobWaiting, a.Status)
		assert.Equal(t, 3, a.MaxAttempts, "max attempts defaults when unset")
	})
}

func TestClaimNextJobIsFIFOWithinForm(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()
		first := enqueue(t, st, "form-1")
		second := enqueue(t, st, "form-1")

		claimed, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, state.JobActive, claimed.Status)

		// The second job stays behind the active one.
		blocked, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		assert.Nil(t, blocked, "at most one active job per form")

		require.NoError(t, st.CompleteJob(ctx, claimed.ID))

		claimed, err = st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, second.ID, claimed.ID)
	})
}

func TestClaimNextJobIsIndependentAcrossForms(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()
		a := enqueue(t, st, "form-a")
		b := enqueue(t, st, "form-b")

		claimedA, err := st.ClaimNextJob(ctx, "form-a")
		require.NoError(t, err)
		require.NotNil(t, claimedA)
		assert.Equal(t, a.ID, claimedA.ID)

		claimedB, err := st.ClaimNextJob(ctx, "form-b")
		require.NoError(t, err)
		require.NotNil(t, claimedB)
		assert.Equal(t, b.ID, claimedB.ID)
	})
}

func TestRetryJobDelaysNextRun(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()
		job := enqueue(t, st, "form-1")

		claimed, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)

		require.NoError(t, st.RetryJob(ctx, job.ID, errors.New("deadlock detected"), time.Hour))

		got, err := st.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, state.JobWaiting, got.Status)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "deadlock detected", *got.LastError)
		assert.WithinDuration(t, time.Now().Add(time.Hour), got.NextRunAt, time.Minute)

		// Not due yet, so not claimable and not listed as due.
		next, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		assert.Nil(t, next)

		due, err := st.FormsWithDueJobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, due)

		// A zero delay makes it due immediately.
		require.NoError(t, st.RetryJob(ctx, job.ID, errors.New("deadlock detected"), 0))
		next, err = st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, 2, next.Attempts)
	})
}

func TestFailAndCancelTransitions(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()

		doomed := enqueue(t, st, "form-1")
		_, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.NoError(t, st.FailJob(ctx, doomed.ID, errors.New("column does not exist")))

		got, err := st.GetJob(ctx, doomed.ID)
		require.NoError(t, err)
		assert.Equal(t, state.JobFailed, got.Status)
		require.NotNil(t, got.LastError)

		waiting := enqueue(t, st, "form-1")
		ok, err := st.CancelWaitingJob(ctx, waiting.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		// Cancelling again is a no-op.
		ok, err = st.CancelWaitingJob(ctx, waiting.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		// Active jobs cannot be cancelled.
		active := enqueue(t, st, "form-1")
		_, err = st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		ok, err = st.CancelWaitingJob(ctx, active.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		_, err := st.GetJob(context.Background(), uuid.NewString())
		var notFound state.JobNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestQueuePositionCountsJobsAhead(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()
		jobs := make([]*state.Job, 3)
		for i := range jobs {
			jobs[i] = enqueue(t, st, "form-1")
		}

		for i, job := range jobs {
			pos, err := st.QueuePosition(ctx, job)
			require.NoError(t, err)
			assert.Equal(t, i, pos, fmt.Sprintf("job %d", i))
		}

		// An active job still counts as ahead; completed ones drop out.
		claimed, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		pos, err := st.QueuePosition(ctx, jobs[1])
		require.NoError(t, err)
		assert.Equal(t, 1, pos)

		require.NoError(t, st.CompleteJob(ctx, claimed.ID))
		pos, err = st.QueuePosition(ctx, jobs[1])
		require.NoError(t, err)
		assert.Equal(t, 0, pos)
	})
}

func TestCountsBreakdown(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()

		enqueue(t, st, "form-1")
		delayed := enqueue(t, st, "form-1")
		other := enqueue(t, st, "form-2")

		claimed, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.NoError(t, st.CompleteJob(ctx, claimed.ID))

		claimed, err = st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.Equal(t, delayed.ID, claimed.ID)
		require.NoError(t, st.RetryJob(ctx, delayed.ID, errors.New("timeout"), time.Hour))

		claimed, err = st.ClaimNextJob(ctx, "form-2")
		require.NoError(t, err)
		require.Equal(t, other.ID, claimed.ID)

		all, err := st.Counts(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, &state.QueueCounts{Waiting: 1, Active: 1, Completed: 1, Delayed: 1}, all)

		form1, err := st.Counts(ctx, "form-1")
		require.NoError(t, err)
		assert.Equal(t, &state.QueueCounts{Waiting: 1, Completed: 1, Delayed: 1}, form1)

		activeJob, err := st.ActiveJob(ctx, "form-2")
		require.NoError(t, err)
		require.NotNil(t, activeJob)
		assert.Equal(t, other.ID, activeJob.ID)

		none, err := st.ActiveJob(ctx, "form-1")
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestRequeueOrphanedActive(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()

		job := enqueue(t, st, "form-1")
		_, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)

		n, err := st.RequeueOrphanedActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := st.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, state.JobWaiting, got.Status)
	})
}

func TestDrainRemovesFinishedJobs(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, _ *sql.DB) {
		ctx := context.Background()

		done := enqueue(t, st, "form-1")
		claimed, err := st.ClaimNextJob(ctx, "form-1")
		require.NoError(t, err)
		require.NoError(t, st.CompleteJob(ctx, claimed.ID))

		pending := enqueue(t, st, "form-1")

		n, err := st.DrainCompleted(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = st.GetJob(ctx, done.ID)
		var notFound state.JobNotFoundError
		assert.ErrorAs(t, err, &notFound)

		// Waiting jobs are untouched.
		got, err := st.GetJob(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, state.JobWaiting, got.Status)
	})
}
