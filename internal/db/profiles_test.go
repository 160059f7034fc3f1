package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconsole/internal/rcon"
)

func newTestStore(t *testing.T) *ProfileStore {
	t.Helper()
	store, err := NewProfileStore(context.Background(), filepath.Join(t.TempDir(), "nested", "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProfileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Profile{
		Name:        "survival",
		Host:        "mc.example.com",
		Port:        25575,
		Password:    "hunter2",
		TimeoutMs:   2000,
		Description: "main world",
	}))

	p, err := store.Get(ctx, "survival")
	require.NoError(t, err)
	assert.Equal(t, "mc.example.com", p.Host)
	assert.Equal(t, 25575, p.Port)
	assert.Equal(t, "hunter2", p.Password)
	assert.Equal(t, "main world", p.Description)
	assert.Nil(t, p.LastUsedAt)
	assert.False(t, p.CreatedAt.IsZero())

	assert.Equal(t, rcon.Options{
		Host:     "mc.example.com",
		Port:     25575,
		Password: "hunter2",
		Timeout:  2 * time.Second,
	}, p.Options())
}

func TestProfileStoreUpsertKeepsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return first }
	require.NoError(t, store.Save(ctx, Profile{Name: "a", Host: "h1", Port: 1}))

	second := first.Add(time.Hour)
	store.now = func() time.Time { return second }
	require.NoError(t, store.Save(ctx, Profile{Name: "a", Host: "h2", Port: 2}))

	p, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "h2", p.Host)
	assert.True(t, p.CreatedAt.Equal(first))
	assert.True(t, p.UpdatedAt.Equal(second))
}

func TestProfileStoreListOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, store.Save(ctx, Profile{Name: name, Host: "localhost", Port: 25575}))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestProfileStoreDeleteAndTouch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Profile{Name: "a", Host: "localhost", Port: 25575}))
	require.NoError(t, store.Touch(ctx, "a"))

	p, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.NotNil(t, p.LastUsedAt)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "a"), ErrProfileNotFound)
	assert.ErrorIs(t, store.Touch(ctx, "a"), ErrProfileNotFound)
}

func TestProfileStoreRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, Profile{Name: "  ", Host: "localhost", Port: 1}))
	assert.ErrorIs(t, store.Save(ctx, Profile{Name: "a", Port: 1}), rcon.ErrInvalidOptions)
	assert.ErrorIs(t, store.Save(ctx, Profile{Name: "a", Host: "h", Port: 70000}), rcon.ErrInvalidOptions)
}

func TestProfileStoreReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")
	ctx := context.Background()

	store, err := NewProfileStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, Profile{Name: "a", Host: "localhost", Port: 25575}))
	require.NoError(t, store.Close())

	store, err = NewProfileStore(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	var version int
	require.NoError(t, store.db.QueryRow(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, len(profileMigrations), version)

	_, err = store.Get(ctx, "a")
	assert.NoError(t, err)
}
