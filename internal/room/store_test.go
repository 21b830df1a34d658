package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockUpdate starts an update of roomID whose mutation waits for release.
// It returns once the mutation is running.
func blockUpdate(t *testing.T, store *Store, roomID string, mutate func(rec *record)) (release func(), done <-chan error) {
	t.Helper()
	entered := make(chan struct{})
	gate := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		_, err := store.update(roomID, func(rec *record) error {
			close(entered)
			<-gate
			if mutate != nil {
				mutate(rec)
			}
			return nil
		})
		result <- err
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("update never started")
	}
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }, result
}

func TestSlowUpdateDoesNotBlockOtherRooms(t *testing.T) {
	svc, _ := newTestService(t)
	slow := setupRoom(t, svc, "Ada")
	fast := setupRoom(t, svc, "Bob")

	release, slowDone := blockUpdate(t, svc.store, slow.id, nil)
	defer release()

	fastDone := make(chan error, 1)
	go func() {
		fastDone <- svc.Heartbeat(context.Background(), fast.id, "session-Bob")
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("update of another room waited on the slow one")
	}

	_, ok := svc.store.get(slow.id)
	assert.True(t, ok)
	assert.Equal(t, 2, svc.store.Len())

	release()
	require.NoError(t, <-slowDone)
}

func TestUpdatesOfOneRoomRunInOrder(t *testing.T) {
	svc, _ := newTestService(t)
	room := setupRoom(t, svc, "Ada")
	before, _ := svc.store.get(room.id)

	release, firstDone := blockUpdate(t, svc.store, room.id, func(rec *record) {
		rec.room.RematchCode = "FIRST"
	})
	secondDone := make(chan *record, 1)
	go func() {
		next, _ := svc.store.update(room.id, func(rec *record) error {
			rec.room.CurrentRound++
			return nil
		})
		secondDone <- next
	}()

	select {
	case <-secondDone:
		t.Fatal("second update ran while the first held the room")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	require.NoError(t, <-firstDone)
	second := <-secondDone
	assert.Equal(t, "FIRST", second.room.RematchCode)
	assert.Equal(t, before.version+2, second.version)
}

func TestEvictRechecksIdleUnderLock(t *testing.T) {
	svc, clock := newTestService(t)
	room := setupRoom(t, svc, "Ada")
	ctx := context.Background()

	clock.Advance(2 * time.Hour)
	stale, ok := svc.store.get(room.id)
	require.True(t, ok)
	require.True(t, svc.idle(stale, clock.Now()))

	require.NoError(t, svc.Heartbeat(ctx, room.id, "session-Ada"))
	evicted := svc.store.evict(room.id, func(rec *record) bool { return svc.idle(rec, clock.Now()) })
	assert.False(t, evicted)
	assert.Equal(t, 1, svc.store.Len())
}

func TestEvictWaitsForInFlightUpdate(t *testing.T) {
	svc, clock := newTestService(t)
	room := setupRoom(t, svc, "Ada")
	clock.Advance(2 * time.Hour)
	now := clock.Now()

	release, done := blockUpdate(t, svc.store, room.id, func(rec *record) {
		touch(rec, now)
	})
	evicted := make(chan bool, 1)
	go func() {
		evicted <- svc.store.evict(room.id, func(rec *record) bool { return svc.idle(rec, now) })
	}()

	select {
	case <-evicted:
		t.Fatal("evict ran while an update held the room")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)
	assert.False(t, <-evicted)

	snap, err := svc.Snapshot(context.Background(), room.id)
	require.NoError(t, err)
	assert.Equal(t, now, snap.Room.LastActivityAt)
}
