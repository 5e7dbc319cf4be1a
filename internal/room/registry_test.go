package room

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	reg := NewRegistry(100, nil)

	idRe := regexp.MustCompile(`^[1-9][0-9]{5}$`)

	id, err := reg.GenerateID(nil)
	require.NoError(t, err)
	assert.True(t, idRe.MatchString(id), "id %q not six digits", id)

	// a live room with that ID is never handed out again
	reg.Create(id, false, "alice", "")
	for i := 0; i < 20; i++ {
		next, err := reg.GenerateID(nil)
		require.NoError(t, err)
		assert.NotEqual(t, id, next)
	}
}

func TestGenerateIDConsultsPersistedRooms(t *testing.T) {
	reg := NewRegistry(100, nil)

	calls := 0
	id, err := reg.GenerateID(func(candidate string) (bool, error) {
		calls++
		// first candidate is "taken" in storage
		return calls == 1, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestCreateGetAll(t *testing.T) {
	reg := NewRegistry(100, nil)

	rm := reg.Create("123456", true, "alice", "pw")
	require.NotNil(t, rm)

	got, ok := reg.Get("123456")
	require.True(t, ok)
	assert.Equal(t, rm, got)

	_, ok = reg.Get("999999")
	assert.False(t, ok)

	assert.Equal(t, 1, reg.Count())
	assert.Len(t, reg.All(), 1)
}

func TestSweeperDestroysEmptyRoomAfterGrace(t *testing.T) {
	var mu sync.Mutex
	var destroyed []string

	reg := NewRegistry(100, func(roomID string) {
		mu.Lock()
		destroyed = append(destroyed, roomID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	reg.Create("123456", false, "alice", "")
	reg.ScheduleCleanup("123456")

	require.Eventually(t, func() bool {
		_, ok := reg.Get("123456")
		return !ok
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"123456"}, destroyed)
}

func TestJoinCancelsPendingCleanup(t *testing.T) {
	reg := NewRegistry(100, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	reg.Create("123456", false, "alice", "")
	reg.ScheduleCleanup("123456")

	rm, ok := reg.Join("123456")
	require.True(t, ok)
	require.NotNil(t, rm)

	time.Sleep(CleanupGrace + 5*sweepInterval)

	_, ok = reg.Get("123456")
	assert.True(t, ok)
}

func TestJoinMissesDestroyedRoom(t *testing.T) {
	reg := NewRegistry(100, nil)

	reg.Create("123456", false, "alice", "")
	reg.ScheduleCleanup("123456")
	reg.sweep(time.Now().Add(time.Second))

	_, ok := reg.Join("123456")
	assert.False(t, ok)
}

func TestSweeperSkipsReoccupiedRoom(t *testing.T) {
	reg := NewRegistry(100, nil)

	rm := reg.Create("123456", false, "alice", "")
	reg.ScheduleCleanup("123456")

	s, _ := newMemberSession(t, "bob")
	rm.AddMember(s)

	// deadline has passed but the room is no longer empty
	reg.sweep(time.Now().Add(time.Second))

	_, ok := reg.Get("123456")
	assert.True(t, ok)
}
