package papers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyQuestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		snap PaperSnapshot
		want map[QuestionKey]bool
	}{
		{
			name: "all fixed pages imaged",
			snap: PaperSnapshot{
				PaperNumber: 1,
				Fixed: []FixedPageState{
					{PageNumber: 3, QuestionIndex: 1, HasImage: true},
					{PageNumber: 4, QuestionIndex: 1, HasImage: true},
				},
			},
			want: map[QuestionKey]bool{{Paper: 1, Question: 1}: true},
		},
		{
			name: "partially imaged is not ready",
			snap: PaperSnapshot{
				PaperNumber: 1,
				Fixed: []FixedPageState{
					{PageNumber: 3, QuestionIndex: 1, HasImage: true},
					{PageNumber: 4, QuestionIndex: 1, HasImage: false},
				},
			},
			want: map[QuestionKey]bool{{Paper: 1, Question: 1}: false},
		},
		{
			name: "no fixed images but mobile pages present",
			snap: PaperSnapshot{
				PaperNumber: 2,
				Fixed: []FixedPageState{
					{PageNumber: 3, QuestionIndex: 1, HasImage: false},
					{PageNumber: 4, QuestionIndex: 1, HasImage: false},
				},
				Mobile: []MobilePageState{{QuestionIndex: 1}},
			},
			want: map[QuestionKey]bool{{Paper: 2, Question: 1}: true},
		},
		{
			name: "mixed fixed and mobile is never ready",
			snap: PaperSnapshot{
				PaperNumber: 2,
				Fixed: []FixedPageState{
					{PageNumber: 3, QuestionIndex: 1, HasImage: true},
					{PageNumber: 4, QuestionIndex: 1, HasImage: false},
				},
				Mobile: []MobilePageState{{QuestionIndex: 1}},
			},
			want: map[QuestionKey]bool{{Paper: 2, Question: 1}: false},
		},
		{
			name: "mobile-only question with no fixed pages",
			snap: PaperSnapshot{
				PaperNumber: 3,
				Mobile:      []MobilePageState{{QuestionIndex: 2}, {QuestionIndex: 2}},
			},
			want: map[QuestionKey]bool{{Paper: 3, Question: 2}: true},
		},
		{
			name: "sentinel question is skipped",
			snap: PaperSnapshot{
				PaperNumber: 4,
				Fixed: []FixedPageState{
					{PageNumber: 1, QuestionIndex: SentinelQuestion, HasImage: true},
				},
				Mobile: []MobilePageState{{QuestionIndex: SentinelQuestion}},
			},
			want: map[QuestionKey]bool{},
		},
		{
			name: "independent questions evaluated separately",
			snap: PaperSnapshot{
				PaperNumber: 5,
				Fixed: []FixedPageState{
					{PageNumber: 3, QuestionIndex: 1, HasImage: true},
					{PageNumber: 4, QuestionIndex: 2, HasImage: false},
				},
			},
			want: map[QuestionKey]bool{
				{Paper: 5, Question: 1}: true,
				{Paper: 5, Question: 2}: false,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ReadyQuestions(tt.snap))
		})
	}
}

func TestQuestionReady(t *testing.T) {
	t.Parallel()

	snap := PaperSnapshot{
		PaperNumber: 1,
		Fixed: []FixedPageState{
			{PageNumber: 3, QuestionIndex: 1, HasImage: true},
			{PageNumber: 4, QuestionIndex: 2, HasImage: false},
		},
	}

	assert.True(t, QuestionReady(snap, 1))
	assert.False(t, QuestionReady(snap, 2))
	assert.False(t, QuestionReady(snap, 3))
}

func TestIDPageImaged(t *testing.T) {
	t.Parallel()

	bp, err := NewBlueprint(threeQuestionPages(), 3, 1)
	require.NoError(t, err)

	t.Run("imaged", func(t *testing.T) {
		t.Parallel()
		snap := PaperSnapshot{
			PaperNumber: 1,
			Fixed:       []FixedPageState{{PageNumber: 1, HasImage: true}},
		}
		assert.True(t, IDPageImaged(bp, snap))
	})

	t.Run("not imaged", func(t *testing.T) {
		t.Parallel()
		snap := PaperSnapshot{
			PaperNumber: 1,
			Fixed:       []FixedPageState{{PageNumber: 1, HasImage: false}},
		}
		assert.False(t, IDPageImaged(bp, snap))
	})

	t.Run("id page missing from snapshot", func(t *testing.T) {
		t.Parallel()
		snap := PaperSnapshot{PaperNumber: 1}
		assert.False(t, IDPageImaged(bp, snap))
	})
}
