package index

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
)

func ev(repo, id string, op Operation) ComponentEvent {
	return ComponentEvent{Repository: repo, ComponentID: storageID(id), Operation: op}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name string
		in   []ComponentEvent
		want []ComponentEvent
	}{
		{
			name: "create then update stays create",
			in:   []ComponentEvent{ev("r", "a", OpCreate), ev("r", "a", OpUpdate)},
			want: []ComponentEvent{ev("r", "a", OpCreate)},
		},
		{
			name: "create then delete cancels",
			in:   []ComponentEvent{ev("r", "a", OpCreate), ev("r", "a", OpDelete)},
			want: []ComponentEvent{},
		},
		{
			name: "update then delete is delete",
			in:   []ComponentEvent{ev("r", "a", OpUpdate), ev("r", "a", OpDelete)},
			want: []ComponentEvent{ev("r", "a", OpDelete)},
		},
		{
			name: "delete then create is update",
			in:   []ComponentEvent{ev("r", "a", OpDelete), ev("r", "a", OpCreate)},
			want: []ComponentEvent{ev("r", "a", OpUpdate)},
		},
		{
			name: "cancelled component can come back",
			in:   []ComponentEvent{ev("r", "a", OpCreate), ev("r", "a", OpDelete), ev("r", "a", OpCreate)},
			want: []ComponentEvent{ev("r", "a", OpCreate)},
		},
		{
			name: "same id in different repositories is kept apart",
			in:   []ComponentEvent{ev("r1", "a", OpCreate), ev("r2", "a", OpDelete)},
			want: []ComponentEvent{ev("r1", "a", OpCreate), ev("r2", "a", OpDelete)},
		},
		{
			name: "first-seen order",
			in:   []ComponentEvent{ev("r", "b", OpUpdate), ev("r", "a", OpUpdate), ev("r", "b", OpUpdate)},
			want: []ComponentEvent{ev("r", "b", OpUpdate), ev("r", "a", OpUpdate)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coalesce(tt.in))
		})
	}
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "update", OpUpdate.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "unknown", Operation(42).String())
}

func TestParseOperation(t *testing.T) {
	for input, want := range map[string]Operation{
		"create":   OpCreate,
		"UPDATE":   OpUpdate,
		" delete ": OpDelete,
	} {
		got, err := ParseOperation(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseOperation("rename")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rserrors.ErrInvalidInput))
}
