package app

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/dkeye/proximity/internal/core"
	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	closed bool
}

func (f *fakeConn) TrySend(b core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, slices.Clone(b))
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, 0, len(f.frames))
	for _, b := range f.frames {
		m, err := protocol.DecodeServer(b)
		if err != nil {
			t.Fatalf("decode %s: %v", b, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func sequentialIDs(prefix string) func() domain.ParticipantID {
	n := 0
	return func() domain.ParticipantID {
		n++
		return domain.ParticipantID(fmt.Sprintf("%s%d", prefix, n))
	}
}

func checkInvariant(t *testing.T, r *Registry) {
	t.Helper()
	snap := r.Snapshot()
	if len(snap) != r.Len() {
		t.Fatalf("snapshot=%d len=%d", len(snap), r.Len())
	}
	for _, p := range snap {
		if !r.HasConn(p.ID) {
			t.Fatalf("participant %s has no connection", p.ID)
		}
	}
	r.mu.Lock()
	conns := len(r.conns)
	r.mu.Unlock()
	if conns != len(snap) {
		t.Fatalf("participants=%d conns=%d", len(snap), conns)
	}
}

func TestJoinSendsInitAndAnnounces(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	first := &fakeConn{}
	second := &fakeConn{}

	id1, _ := r.Join(first, "alice")
	first.reset()
	id2, init := r.Join(second, "")

	if init.SelfID != id2 || init.Self.Name != "User2" {
		t.Fatalf("init = %+v, want self %s named User2", init, id2)
	}
	if len(init.Participants) != 2 {
		t.Fatalf("snapshot has %d participants, want 2", len(init.Participants))
	}
	if init.Self.X != 0 || init.Self.Y != 0 {
		t.Fatalf("spawn at (%v,%v), want origin", init.Self.X, init.Self.Y)
	}
	if !slices.Contains(domain.Palette, init.Self.Color) {
		t.Fatalf("color %q not from palette", init.Self.Color)
	}

	got := second.messages(t)
	if len(got) != 1 || got[0].MessageType() != protocol.MsgInit {
		t.Fatalf("joiner got %v, want only init", got)
	}

	others := first.messages(t)
	if len(others) != 1 {
		t.Fatalf("existing participant got %d messages, want 1", len(others))
	}
	joined, ok := others[0].(protocol.Joined)
	if !ok || joined.Participant.ID != id2 {
		t.Fatalf("existing participant got %+v, want joined %s", others[0], id2)
	}
	if id1 == id2 {
		t.Fatalf("ids must differ")
	}
	checkInvariant(t, r)
}

func TestJoinRegeneratesCollidingID(t *testing.T) {
	ids := []domain.ParticipantID{"dup", "dup", "fresh"}
	n := 0
	r := NewRegistry(WithIDGenerator(func() domain.ParticipantID {
		id := ids[n]
		n++
		return id
	}))
	a, _ := r.Join(&fakeConn{}, "a")
	b, _ := r.Join(&fakeConn{}, "b")
	if a != "dup" || b != "fresh" {
		t.Fatalf("ids = %s,%s, want dup,fresh", a, b)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
}

func TestMoveBroadcastsToOthersOnly(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	mover, watcher := &fakeConn{}, &fakeConn{}
	id, _ := r.Join(mover, "m")
	r.Join(watcher, "w")
	mover.reset()
	watcher.reset()

	if !r.Move(id, 10, -20) {
		t.Fatalf("move of registered id reported no-op")
	}
	if n := len(mover.messages(t)); n != 0 {
		t.Fatalf("mover received %d messages, want 0", n)
	}
	got := watcher.messages(t)
	if len(got) != 1 {
		t.Fatalf("watcher got %d messages, want 1", len(got))
	}
	mv := got[0].(protocol.Moved)
	if mv.Participant.ID != id || mv.Participant.X != 10 || mv.Participant.Y != -20 || mv.Participant.Name != "m" {
		t.Fatalf("moved = %+v", mv.Participant)
	}
	p, _ := r.Participant(id)
	if p.X != 10 || p.Y != -20 {
		t.Fatalf("registry position = (%v,%v)", p.X, p.Y)
	}
}

func TestMoveOrderPreservedPerSource(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	mover, watcher := &fakeConn{}, &fakeConn{}
	id, _ := r.Join(mover, "m")
	r.Join(watcher, "w")
	watcher.reset()

	for i := range 50 {
		r.Move(id, float64(i), 0)
	}
	got := watcher.messages(t)
	if len(got) != 50 {
		t.Fatalf("got %d moves, want 50", len(got))
	}
	for i, m := range got {
		if x := m.(protocol.Moved).Participant.X; x != float64(i) {
			t.Fatalf("move %d carried x=%v", i, x)
		}
	}
}

func TestMoveAfterLeaveIsNoop(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	gone, watcher := &fakeConn{}, &fakeConn{}
	id, _ := r.Join(gone, "g")
	r.Join(watcher, "w")
	r.Leave(id)
	watcher.reset()

	before := r.Snapshot()
	if r.Move(id, 5, 5) {
		t.Fatalf("move after leave reported success")
	}
	if n := len(watcher.messages(t)); n != 0 {
		t.Fatalf("move after leave broadcast %d messages", n)
	}
	if !slices.Equal(before, r.Snapshot()) {
		t.Fatalf("registry changed by move after leave")
	}
}

func TestLeaveTwiceChangesStateOnce(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	leaver, watcher := &fakeConn{}, &fakeConn{}
	id, _ := r.Join(leaver, "l")
	r.Join(watcher, "w")
	watcher.reset()

	if !r.Leave(id) {
		t.Fatalf("first leave reported no-op")
	}
	if r.HasConn(id) {
		t.Fatalf("transport still registered after leave")
	}
	if r.Leave(id) {
		t.Fatalf("second leave reported a removal")
	}
	if r.Disconnect(id) {
		t.Fatalf("disconnect after leave reported a removal")
	}
	got := watcher.messages(t)
	if len(got) != 1 {
		t.Fatalf("watcher got %d messages, want one left", len(got))
	}
	if left := got[0].(protocol.Left); left.ID != id {
		t.Fatalf("left id = %s, want %s", left.ID, id)
	}
	if leaver.isClosed() {
		t.Fatalf("leave must keep the transport open")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	checkInvariant(t, r)
}

func TestDisconnectClosesTransport(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	id, _ := r.Join(c, "x")
	if !r.HasConn(id) {
		t.Fatalf("joined participant has no transport")
	}
	if !r.Disconnect(id) {
		t.Fatalf("disconnect reported no-op")
	}
	if !c.isClosed() {
		t.Fatalf("transport not closed")
	}
	if r.Disconnect(id) {
		t.Fatalf("second disconnect reported a removal")
	}
}

func TestRelaySignal(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	from, to, bystander := &fakeConn{}, &fakeConn{}, &fakeConn{}
	fromID, _ := r.Join(from, "f")
	toID, _ := r.Join(to, "t")
	r.Join(bystander, "b")
	from.reset()
	to.reset()
	bystander.reset()

	payload := json.RawMessage(`{"type":"offer","offer":{"type":"offer","sdp":"v=0"}}`)
	if !r.RelaySignal(fromID, toID, payload) {
		t.Fatalf("relay to connected id failed")
	}
	got := to.messages(t)
	if len(got) != 1 {
		t.Fatalf("target got %d messages, want 1", len(got))
	}
	rel := got[0].(protocol.Relayed)
	if rel.FromID != fromID || string(rel.Payload) != string(payload) {
		t.Fatalf("relayed = %+v", rel)
	}
	if len(from.messages(t))+len(bystander.messages(t)) != 0 {
		t.Fatalf("relay leaked to other participants")
	}
}

func TestRelaySignalToGoneTargetIsDropped(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	from, to := &fakeConn{}, &fakeConn{}
	fromID, _ := r.Join(from, "f")
	toID, _ := r.Join(to, "t")
	r.Disconnect(toID)
	from.reset()

	before := r.Snapshot()
	if r.RelaySignal(fromID, toID, json.RawMessage(`{}`)) {
		t.Fatalf("relay to disconnected id reported delivery")
	}
	if n := len(from.messages(t)); n != 0 {
		t.Fatalf("sender got %d messages, want none", n)
	}
	if !slices.Equal(before, r.Snapshot()) {
		t.Fatalf("relay drop changed the registry")
	}
	if r.RelaySignal("nobody", fromID, json.RawMessage(`{}`)) {
		t.Fatalf("relay from unregistered sender reported delivery")
	}
}

func TestBroadcastSkipsUnwritable(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	dead := &fakeConn{}
	alive := &fakeConn{}
	deadID, _ := r.Join(dead, "d")
	r.Join(alive, "a")
	dead.err = core.ErrBackpressure
	alive.reset()

	res := r.Broadcast(protocol.NewError("hello"), "")
	if res.SentTo != 1 || len(res.Dropped) != 1 || res.Dropped[0].ID != deadID {
		t.Fatalf("result = %+v", res)
	}
	if n := len(alive.messages(t)); n != 1 {
		t.Fatalf("alive got %d messages, want 1", n)
	}
	if _, ok := r.Participant(deadID); !ok {
		t.Fatalf("drop policy must not remove slow participants")
	}
}

func TestKickPolicyDisconnectsSlowRecipient(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")), WithPolicy(KickPolicy{}))
	slow, mover := &fakeConn{}, &fakeConn{}
	slowID, _ := r.Join(slow, "s")
	moverID, _ := r.Join(mover, "m")
	slow.err = core.ErrBackpressure
	mover.reset()

	r.Move(moverID, 1, 1)
	if _, ok := r.Participant(slowID); ok {
		t.Fatalf("slow participant still registered")
	}
	if !slow.isClosed() {
		t.Fatalf("slow participant transport not closed")
	}
	got := mover.messages(t)
	if len(got) != 1 || got[0].(protocol.Left).ID != slowID {
		t.Fatalf("mover got %+v, want left %s", got, slowID)
	}
	checkInvariant(t, r)
}

func TestRegistryInvariantUnderRandomOps(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("p")))
	rng := rand.New(rand.NewPCG(3, 9))
	var live []domain.ParticipantID
	var gone []domain.ParticipantID

	for step := range 500 {
		switch op := rng.IntN(5); {
		case op == 0 || len(live) == 0:
			id, _ := r.Join(&fakeConn{}, "")
			live = append(live, id)
		case op == 1:
			r.Move(live[rng.IntN(len(live))], rng.Float64()*100, rng.Float64()*100)
		case op == 2:
			i := rng.IntN(len(live))
			r.Leave(live[i])
			gone = append(gone, live[i])
			live = slices.Delete(live, i, i+1)
		case op == 3:
			i := rng.IntN(len(live))
			r.Disconnect(live[i])
			gone = append(gone, live[i])
			live = slices.Delete(live, i, i+1)
		default:
			if len(gone) > 0 {
				g := gone[rng.IntN(len(gone))]
				if r.Move(g, 1, 1) || r.Leave(g) {
					t.Fatalf("step %d: removed id %s was resurrected", step, g)
				}
			}
		}
		checkInvariant(t, r)
		if r.Len() != len(live) {
			t.Fatalf("step %d: len=%d want %d", step, r.Len(), len(live))
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := r.Join(&fakeConn{}, fmt.Sprintf("w%d", w))
			for i := range 100 {
				r.Move(id, float64(i), float64(w))
				_ = r.Snapshot()
			}
			r.Leave(id)
			r.Disconnect(id)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("len = %d after all left", r.Len())
	}
	checkInvariant(t, r)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry(WithIDGenerator(sequentialIDs("a")))
	id, _ := r.Join(&fakeConn{}, "x")
	snap := r.Snapshot()
	snap[0].X = 999
	p, _ := r.Participant(id)
	if p.X == 999 {
		t.Fatalf("snapshot aliases registry state")
	}
}
