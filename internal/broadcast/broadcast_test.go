package broadcast

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"chatserver/internal/client"
	"chatserver/internal/metrics"
	"chatserver/internal/room"
	"chatserver/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	pipeline *Pipeline
	rooms    *room.Registry
	store    *store.Store
	metrics  *metrics.Metrics
	cancel   context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rooms := room.NewRegistry(100, nil)
	m := metrics.New()
	p := New(rooms, st, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)

	return &fixture{pipeline: p, rooms: rooms, store: st, metrics: m, cancel: cancel}
}

func newMember(t *testing.T, name string) (*client.Session, *bufio.Reader) {
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

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := r.ReadString('\n')
		if err != nil {
			errCh <- err
			return
		}
		lineCh <- line
	}()
	select {
	case line := <-lineCh:
		return line
	case err := <-errCh:
		t.Fatalf("read line: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line")
	}
	return ""
}

func TestPublicMessageFanOut(t *testing.T) {
	f := newFixture(t)

	rm := f.rooms.Create("123456", false, "alice", "")
	require.NoError(t, f.store.CreateRoom("123456", false, "alice", ""))

	alice, _ := newMember(t, "alice")
	bob, bobRead := newMember(t, "bob")
	carol, carolRead := newMember(t, "carol")
	rm.AddMember(alice)
	rm.AddMember(bob)
	rm.AddMember(carol)

	f.pipeline.Enqueue(Envelope{Sender: alice, RoomID: "123456", Content: "hello"})

	var wg sync.WaitGroup
	for _, rd := range []*bufio.Reader{bobRead, carolRead} {
		wg.Add(1)
		go func(rd *bufio.Reader) {
			defer wg.Done()
			line := readLine(t, rd)
			assert.True(t, strings.HasSuffix(line, " alice: hello\n"), "got %q", line)
		}(rd)
	}
	wg.Wait()

	// history recorded without the trailing newline
	require.Eventually(t, func() bool {
		return len(rm.History()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasSuffix(rm.History()[0], " alice: hello"))

	// persisted
	require.Eventually(t, func() bool {
		msgs, err := f.store.GetMessageHistory("123456", 10)
		return err == nil && len(msgs) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), f.metrics.TotalMessages())
}

func TestPrivateMessageDelivery(t *testing.T) {
	f := newFixture(t)

	rm := f.rooms.Create("123456", false, "alice", "")
	require.NoError(t, f.store.CreateRoom("123456", false, "alice", ""))

	alice, aliceRead := newMember(t, "alice")
	bob, bobRead := newMember(t, "bob")
	rm.AddMember(alice)
	rm.AddMember(bob)

	f.pipeline.Enqueue(Envelope{
		Sender:    alice,
		RoomID:    "123456",
		Content:   "psst",
		Recipient: "bob",
		Private:   true,
	})

	assert.Equal(t, "PM_FROM:alice:psst\n", readLine(t, bobRead))
	assert.Equal(t, "PM_SENT:bob:psst\n", readLine(t, aliceRead))

	require.Eventually(t, func() bool {
		msgs, err := f.store.GetPrivateMessages("123456", "bob", 10)
		return err == nil && len(msgs) == 1
	}, time.Second, 10*time.Millisecond)

	// private traffic never lands in room history
	history, err := f.store.GetMessageHistory("123456", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, rm.History())
}

func TestPrivateMessageUnknownRecipient(t *testing.T) {
	f := newFixture(t)

	rm := f.rooms.Create("123456", false, "alice", "")
	alice, aliceRead := newMember(t, "alice")
	rm.AddMember(alice)

	f.pipeline.Enqueue(Envelope{
		Sender:    alice,
		RoomID:    "123456",
		Content:   "psst",
		Recipient: "ghost",
		Private:   true,
	})

	assert.Equal(t, "ERROR: User 'ghost' not found in this room\n", readLine(t, aliceRead))
}

func TestOrderingWithinRoom(t *testing.T) {
	f := newFixture(t)

	rm := f.rooms.Create("123456", false, "alice", "")
	require.NoError(t, f.store.CreateRoom("123456", false, "alice", ""))

	alice, _ := newMember(t, "alice")
	bob, bobRead := newMember(t, "bob")
	rm.AddMember(alice)
	rm.AddMember(bob)

	go func() {
		for _, msg := range []string{"one", "two", "three"} {
			f.pipeline.Enqueue(Envelope{Sender: alice, RoomID: "123456", Content: msg})
		}
	}()

	for _, want := range []string{"one", "two", "three"} {
		line := readLine(t, bobRead)
		assert.True(t, strings.HasSuffix(line, " alice: "+want+"\n"), "got %q want suffix %q", line, want)
	}
}
