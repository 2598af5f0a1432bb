package work

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markflow/markflow/internal/domain/papers"
)

func TestNewMarkTask(t *testing.T) {
	t.Parallel()

	task := NewMarkTask(17, 3, 2)

	assert.NotEqual(t, uuid.Nil, task.ID())
	assert.Equal(t, TaskKindMark, task.Kind())
	assert.Equal(t, 17, task.PaperNumber())
	assert.Equal(t, 3, task.QuestionIndex())
	assert.Equal(t, 2, task.Version())
	assert.Equal(t, TaskStatusToDo, task.Status())
	assert.Empty(t, task.AssignedTo())
	assert.Nil(t, task.LatestActionID())
}

func TestNewIdentifyTask(t *testing.T) {
	t.Parallel()

	task := NewIdentifyTask(42, 5)

	assert.Equal(t, TaskKindIdentify, task.Kind())
	assert.Equal(t, 42, task.PaperNumber())
	assert.Equal(t, papers.SentinelQuestion, task.QuestionIndex())
	assert.Equal(t, TaskStatusToDo, task.Status())
	assert.Equal(t, int32(5), task.Priority())
}

func TestTask_Claim(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(t *testing.T) *Task
		claimer string
		wantErr error
	}{
		{
			name:    "claim to do task",
			setup:   func(t *testing.T) *Task { return NewMarkTask(1, 1, 1) },
			claimer: "marker-a",
			wantErr: nil,
		},
		{
			name: "re-claim by same worker is a no-op",
			setup: func(t *testing.T) *Task {
				task := NewMarkTask(1, 1, 1)
				require.NoError(t, task.Claim("marker-a"))
				return task
			},
			claimer: "marker-a",
			wantErr: nil,
		},
		{
			name: "claim held by another worker",
			setup: func(t *testing.T) *Task {
				task := NewMarkTask(1, 1, 1)
				require.NoError(t, task.Claim("marker-a"))
				return task
			},
			claimer: "marker-b",
			wantErr: ErrAlreadyClaimed,
		},
		{
			name: "claim completed task",
			setup: func(t *testing.T) *Task {
				task := NewMarkTask(1, 1, 1)
				require.NoError(t, task.Claim("marker-a"))
				require.NoError(t, task.Complete("marker-a", uuid.New()))
				return task
			},
			claimer: "marker-b",
			wantErr: ErrAlreadyComplete,
		},
		{
			name: "claim out of date task",
			setup: func(t *testing.T) *Task {
				task := NewMarkTask(1, 1, 1)
				task.MarkOutOfDate()
				return task
			},
			claimer: "marker-a",
			wantErr: ErrTaskOutdated,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			task := tt.setup(t)
			err := task.Claim(tt.claimer)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TaskStatusOut, task.Status())
			assert.Equal(t, tt.claimer, task.AssignedTo())
		})
	}
}

func TestTask_Complete(t *testing.T) {
	t.Parallel()

	t.Run("completing holder records action", func(t *testing.T) {
		t.Parallel()
		task := NewMarkTask(1, 2, 1)
		require.NoError(t, task.Claim("marker-a"))

		actionID := uuid.New()
		require.NoError(t, task.Complete("marker-a", actionID))

		assert.Equal(t, TaskStatusComplete, task.Status())
		require.NotNil(t, task.LatestActionID())
		assert.Equal(t, actionID, *task.LatestActionID())
		assert.True(t, task.Timeline().IsCompleted())
	})

	t.Run("non-holder cannot complete", func(t *testing.T) {
		t.Parallel()
		task := NewMarkTask(1, 2, 1)
		require.NoError(t, task.Claim("marker-a"))

		err := task.Complete("marker-b", uuid.New())
		assert.ErrorIs(t, err, ErrNotYours)
		assert.Equal(t, TaskStatusOut, task.Status())
	})

	t.Run("completing an outdated task fails", func(t *testing.T) {
		t.Parallel()
		task := NewMarkTask(1, 2, 1)
		require.NoError(t, task.Claim("marker-a"))
		task.MarkOutOfDate()

		err := task.Complete("marker-a", uuid.New())
		assert.ErrorIs(t, err, ErrTaskOutdated)
	})
}

func TestTask_Surrender(t *testing.T) {
	t.Parallel()

	t.Run("holder returns task to pool", func(t *testing.T) {
		t.Parallel()
		task := NewMarkTask(3, 1, 1)
		require.NoError(t, task.Claim("marker-a"))

		require.NoError(t, task.Surrender("marker-a"))
		assert.Equal(t, TaskStatusToDo, task.Status())
		assert.Empty(t, task.AssignedTo())
	})

	t.Run("non-holder cannot surrender", func(t *testing.T) {
		t.Parallel()
		task := NewMarkTask(3, 1, 1)
		require.NoError(t, task.Claim("marker-a"))

		assert.ErrorIs(t, task.Surrender("marker-b"), ErrNotYours)
	})
}

func TestTask_MarkOutOfDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T) *Task
	}{
		{
			name:  "from to do",
			setup: func(t *testing.T) *Task { return NewMarkTask(1, 1, 1) },
		},
		{
			name: "from out clears the claim",
			setup: func(t *testing.T) *Task {
				task := NewMarkTask(1, 1, 1)
				require.NoError(t, task.Claim("marker-a"))
				return task
			},
		},
		{
			name: "from complete",
			setup: func(t *testing.T) *Task {
				task := NewMarkTask(1, 1, 1)
				require.NoError(t, task.Claim("marker-a"))
				require.NoError(t, task.Complete("marker-a", uuid.New()))
				return task
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			task := tt.setup(t)

			assert.True(t, task.MarkOutOfDate())
			assert.Equal(t, TaskStatusOutOfDate, task.Status())
			assert.Empty(t, task.AssignedTo())

			// Second call is an idempotent no-op.
			assert.False(t, task.MarkOutOfDate())
		})
	}
}
