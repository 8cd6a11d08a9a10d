package governor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQuotaStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryQuotaStore()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrQuotaStateNotFound)

	require.NoError(t, s.Save(ctx, QuotaState{DailyCalls: 7, LastResetDate: "2024-03-11"}))
	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, state.DailyCalls)
}

func TestFileQuotaStore_RoundTripAndLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "quota.json")
	s := NewFileQuotaStore(path)

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrQuotaStateNotFound)

	require.NoError(t, s.Save(ctx, QuotaState{DailyCalls: 12, LastResetDate: "2024-03-11"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dailyCalls":12,"lastResetDate":"2024-03-11"}`, string(raw))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, QuotaState{DailyCalls: 12, LastResetDate: "2024-03-11"}, state)
}

func TestFileQuotaStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileQuotaStore(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.NotErrorIs(t, err, ErrQuotaStateNotFound)
}

func TestFileQuotaStore_UnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// parent path is a regular file so MkdirAll must fail
	s := NewFileQuotaStore(filepath.Join(blocker, "quota.json"))
	err := s.Save(context.Background(), QuotaState{DailyCalls: 1})
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "save", pe.Op)
}
