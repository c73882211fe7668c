package generations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := OpenDatabase("sqlite", dsn)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A shared in-memory database disappears when its last connection
	// closes; a single pooled connection keeps it alive for the test.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := NewStore(db, NewChangeFeed(nil))
	require.NoError(t, err)
	return store
}

func TestInsertAndSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := brollRecord("A", []string{"cat"})
	second := brollRecord("B", nil)
	other := Record{Type: TypeAudio, Model: "fal-ai/f5-tts", OutputURL: "https://media.example.com/audio/x.wav"}

	require.NoError(t, store.Insert(ctx, &first))
	require.NoError(t, store.Insert(ctx, &second))
	require.NoError(t, store.Insert(ctx, &other))

	assert.NotZero(t, first.DocID)
	assert.False(t, first.CreatedAt.IsZero())

	snapshot, err := store.Snapshot(ctx, TypeBroll)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	// Newest first.
	assert.Equal(t, second.DocID, snapshot[0].DocID)
	assert.Equal(t, first.DocID, snapshot[1].DocID)

	all, err := store.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestInsertDefaultsBrollKeywordsToEmptyArray(t *testing.T) {
	store := newTestStore(t)

	record := Record{Type: TypeBroll, Model: "fal-ai/flux-pro/v1.1-ultra", OutputURL: "https://media.example.com/broll/x.mp4"}
	require.NoError(t, store.Insert(context.Background(), &record))

	loaded, err := store.GetByID(context.Background(), record.DocID)
	require.NoError(t, err)
	assert.Equal(t, []string{}, loaded.KeywordList())
}

func TestInsertRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)

	err := store.Insert(context.Background(), &Record{Type: "hologram"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSnapshotRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Snapshot(context.Background(), "hologram")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestGetByIDMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), 12345)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func waitForSnapshot(t *testing.T, sub *Subscription) []Record {
	t.Helper()
	select {
	case snapshot, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestSubscribeDeliversInitialAndUpdatedSnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := brollRecord("A", []string{"cat"})
	require.NoError(t, store.Insert(ctx, &seed))

	sub, err := store.Subscribe(ctx, TypeBroll)
	require.NoError(t, err)
	defer sub.Cancel()

	initial := waitForSnapshot(t, sub)
	require.Len(t, initial, 1)

	update := brollRecord("B", []string{"dog"})
	require.NoError(t, store.Insert(ctx, &update))

	next := waitForSnapshot(t, sub)
	require.Len(t, next, 2)
	assert.Equal(t, update.DocID, next[0].DocID)
}

func TestCancelledSubscriptionReceivesNoFurtherPushes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, TypeBroll)
	require.NoError(t, err)
	waitForSnapshot(t, sub)

	sub.Cancel()
	sub.Cancel() // safe to repeat

	record := brollRecord("A", nil)
	require.NoError(t, store.Insert(ctx, &record))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot, ok := <-sub.C:
			if !ok {
				return
			}
			// A snapshot already buffered before the cancel may still
			// drain; nothing new may arrive after the channel closes.
			_ = snapshot
		case <-deadline:
			t.Fatal("subscription channel never closed after cancel")
		}
	}
}

func TestSubscribeRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Subscribe(context.Background(), "hologram")
	assert.ErrorIs(t, err, ErrUnknownType)
}
