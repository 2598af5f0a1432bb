package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()
	decoder := NewDecoder()

	tests := []struct {
		name    string
		code    string
		want    Marker
		wantErr bool
	}{
		{
			name: "known page",
			code: "T0007P03V114159",
			want: Marker{Paper: 7, Page: 3, Version: 1},
		},
		{
			name: "five digit paper and two digit version",
			code: "T10342P112V1214159",
			want: Marker{Paper: 10342, Page: 112, Version: 12},
		},
		{
			name: "upside down scan",
			code: "951411V30P7000T",
			want: Marker{Paper: 7, Page: 3, Version: 1},
		},
		{
			name:    "wrong magic suffix",
			code:    "T0007P03V199999",
			wantErr: true,
		},
		{
			name:    "zero paper number",
			code:    "T0000P03V114159",
			wantErr: true,
		},
		{
			name:    "not a marker",
			code:    "https://example.com/enroll",
			wantErr: true,
		},
		{
			name:    "empty",
			code:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decoder.Decode(tt.code)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMarker)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	decoder := NewDecoder()

	t.Run("agreeing corners", func(t *testing.T) {
		t.Parallel()
		m, err := decoder.Reconcile([]string{"T0007P03V114159", "T0007P03V114159", "T0007P03V114159"})
		require.NoError(t, err)
		assert.Equal(t, Marker{Paper: 7, Page: 3, Version: 1}, m)
	})

	t.Run("one unreadable corner tolerated", func(t *testing.T) {
		t.Parallel()
		m, err := decoder.Reconcile([]string{"T0007P03V114159", "smudge", "T0007P03V114159"})
		require.NoError(t, err)
		assert.Equal(t, Marker{Paper: 7, Page: 3, Version: 1}, m)
	})

	t.Run("too few readable corners", func(t *testing.T) {
		t.Parallel()
		_, err := decoder.Reconcile([]string{"T0007P03V114159", "smudge", "torn"})
		assert.ErrorIs(t, err, ErrInvalidMarker)
	})

	t.Run("disagreeing corners", func(t *testing.T) {
		t.Parallel()
		_, err := decoder.Reconcile([]string{"T0007P03V114159", "T0008P03V114159"})
		assert.ErrorIs(t, err, ErrMarkerMismatch)
	})
}

func TestMarkerString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "T0007P03V1", Marker{Paper: 7, Page: 3, Version: 1}.String())
}
