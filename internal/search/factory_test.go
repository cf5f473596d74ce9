package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
)

func TestNewServiceWithBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    any
	}{
		{"", &SQLiteService{}},
		{"sqlite", &SQLiteService{}},
		{"bleve", &BleveService{}},
	}

	for _, tt := range tests {
		t.Run("backend="+tt.backend, func(t *testing.T) {
			svc, err := NewServiceWithBackend(Config{Backend: tt.backend})
			require.NoError(t, err)
			defer func() { _ = svc.Close() }()

			assert.IsType(t, tt.want, svc)
		})
	}
}

func TestNewServiceWithBackend_Unknown(t *testing.T) {
	_, err := NewServiceWithBackend(Config{Backend: "elasticsearch"})
	require.Error(t, err)
	assert.Equal(t, rserrors.ErrCodeUnknownBackend, rserrors.GetCode(err))
	assert.Contains(t, err.Error(), "valid options: sqlite, bleve")
}
