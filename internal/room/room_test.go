package room

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"chatserver/internal/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemberSession(t *testing.T, name string) (*client.Session, *bufio.Reader) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		peer.Close()
	})
	s := client.NewSession(server)
	s.SetUsername(name)
	return s, bufio.NewReader(peer)
}

func TestNewRoom(t *testing.T) {
	r := New("123456", true, "alice", "hunter2", 100)

	assert.Equal(t, "123456", r.ID)
	assert.True(t, r.Private)
	assert.Equal(t, "alice", r.Owner())
	assert.Equal(t, "hunter2", r.Password())
	assert.Equal(t, 0, r.MemberCount())
	assert.True(t, r.IsOwner("alice"))
	assert.False(t, r.IsOwner("bob"))
}

func TestMembershipAndJoinOrder(t *testing.T) {
	r := New("123456", false, "alice", "", 100)

	alice, _ := newMemberSession(t, "alice")
	bob, _ := newMemberSession(t, "bob")
	carol, _ := newMemberSession(t, "carol")

	r.AddMember(alice)
	time.Sleep(2 * time.Millisecond)
	r.AddMember(bob)
	time.Sleep(2 * time.Millisecond)
	r.AddMember(carol)

	require.Equal(t, 3, r.MemberCount())
	assert.True(t, r.HasMember(bob.ID))

	members := r.Members()
	require.Len(t, members, 3)
	assert.Equal(t, "alice", members[0].Username())
	assert.Equal(t, "bob", members[1].Username())
	assert.Equal(t, "carol", members[2].Username())

	// longest-tenured member excluding the owner
	next := r.LongestMember(alice.ID)
	require.NotNil(t, next)
	assert.Equal(t, "bob", next.Username())

	r.RemoveMember(bob.ID)
	assert.Equal(t, 2, r.MemberCount())
	assert.False(t, r.HasMember(bob.ID))

	assert.Equal(t, alice, r.FindMemberByName("alice"))
	assert.Nil(t, r.FindMemberByName("bob"))
}

func TestBroadcastSkipsSender(t *testing.T) {
	r := New("123456", false, "alice", "", 100)

	alice, aliceRead := newMemberSession(t, "alice")
	bob, bobRead := newMemberSession(t, "bob")
	r.AddMember(alice)
	r.AddMember(bob)

	done := make(chan struct{})
	go func() {
		defer close(done)
		failed := r.Broadcast("hello\n", alice.ID)
		assert.Equal(t, 0, failed)
	}()

	line, err := bobRead.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
	<-done

	// alice got nothing; a fresh broadcast to all reaches both
	go r.BroadcastToAll("everyone\n")

	var wg sync.WaitGroup
	for _, reader := range []*bufio.Reader{aliceRead, bobRead} {
		wg.Add(1)
		go func(rd *bufio.Reader) {
			defer wg.Done()
			line, err := rd.ReadString('\n')
			assert.NoError(t, err)
			assert.Equal(t, "everyone\n", line)
		}(reader)
	}
	wg.Wait()
}

func TestHistoryRing(t *testing.T) {
	r := New("123456", false, "alice", "", 3)

	for i := 0; i < 5; i++ {
		r.BroadcastChat(fmt.Sprintf("line-%d\n", i), "", nil)
	}

	h := r.History()
	require.Len(t, h, 3)
	assert.Equal(t, []string{"line-2", "line-3", "line-4"}, h)

	// returned slice is a copy
	h[0] = "mutated"
	assert.Equal(t, "line-2", r.History()[0])
}

func TestBroadcastChatPersistsBeforeFanOut(t *testing.T) {
	r := New("123456", false, "alice", "", 100)

	alice, _ := newMemberSession(t, "alice")
	bob, bobRead := newMemberSession(t, "bob")
	r.AddMember(alice)
	r.AddMember(bob)

	persisted := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		failed := r.BroadcastChat("hello\n", alice.ID, func() {
			persisted = true
		})
		assert.Equal(t, 0, failed)
	}()

	line, err := bobRead.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
	<-done

	assert.True(t, persisted)
	assert.Equal(t, []string{"hello"}, r.History())
}

func TestJoinStreamsReplayBeforeAdmission(t *testing.T) {
	r := New("123456", false, "alice", "", 100)
	r.BroadcastChat("old line\n", "", nil)

	carol, _ := newMemberSession(t, "carol")

	var seen []string
	err := r.Join(carol, func(ring []string) error {
		seen = append(seen, ring...)
		// not a member yet while the replay runs
		assert.Equal(t, 0, len(r.members))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"old line"}, seen)
	assert.True(t, r.HasMember(carol.ID))
}

func TestJoinFailedReplayDoesNotAdmit(t *testing.T) {
	r := New("123456", false, "alice", "", 100)

	carol, _ := newMemberSession(t, "carol")
	wantErr := fmt.Errorf("peer gone")

	err := r.Join(carol, func(ring []string) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, r.HasMember(carol.ID))
	assert.Equal(t, 0, r.MemberCount())
}

func TestBanList(t *testing.T) {
	r := New("123456", false, "alice", "", 100)

	assert.False(t, r.IsBanned("mallory"))
	r.Ban("mallory")
	assert.True(t, r.IsBanned("mallory"))
}

func TestConcurrentMembership(t *testing.T) {
	r := New("123456", false, "alice", "", 100)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s, _ := newMemberSession(t, fmt.Sprintf("user-%d", n))
			r.AddMember(s)
			r.MemberCount()
			r.RemoveMember(s.ID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.MemberCount())
}
