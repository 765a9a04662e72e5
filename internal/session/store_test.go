package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgassist/tgassist/internal/database"
)

func TestMemoryStore_ExpiredSessionIsIdle(t *testing.T) {
	store := NewMemoryStore(30 * time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{UserID: 7, State: StateAwaitingTurn, ModeID: "chat", TierID: "basic"}))
	s, err := store.Load(ctx, 7)
	require.NoError(t, err)
	assert.True(t, s.Armed())
	assert.Equal(t, 1, store.Len())

	time.Sleep(60 * time.Millisecond)

	s, err = store.Load(ctx, 7)
	require.NoError(t, err)
	assert.False(t, s.Armed())
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{UserID: 7, State: StateAwaitingTurn}))
	s, _ := store.Load(ctx, 7)
	s.State = StateIdle

	again, _ := store.Load(ctx, 7)
	assert.True(t, again.Armed(), "mutating a loaded session must not change the store")
}

type fakeSessionDB struct {
	rows map[int64]*database.SessionRecord
}

func (f *fakeSessionDB) LoadSession(_ context.Context, id int64) (*database.SessionRecord, error) {
	return f.rows[id], nil
}

func (f *fakeSessionDB) SaveSession(_ context.Context, r *database.SessionRecord) error {
	f.rows[r.UID] = r
	return nil
}

func (f *fakeSessionDB) DeleteSession(_ context.Context, id int64) error {
	delete(f.rows, id)
	return nil
}

func TestDBStore(t *testing.T) {
	db := &fakeSessionDB{rows: map[int64]*database.SessionRecord{}}
	store := NewDBStore(db, time.Hour)
	ctx := context.Background()

	now := time.Now()
	in := &Session{UserID: 9, State: StateAwaitingTurn, ModeID: "code", TierID: "advanced", SystemPrompt: "p", Turns: 3, StartedAt: now, UpdatedAt: now}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	db.rows[9].UpdatedAt = now.Add(-2 * time.Hour)
	out, err = store.Load(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, out, "stale sessions read as idle")
	assert.Empty(t, db.rows)

	require.NoError(t, store.Delete(ctx, 9))
}

func TestUserLocks_Serializes(t *testing.T) {
	locks := newUserLocks()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(1)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.size())
}
