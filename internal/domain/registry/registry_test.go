package registry

import (
	"testing"

	"github.com/channelstream/broker/internal/domain/model"
)

func drain(t *testing.T, conn *model.Connection) []model.Envelope {
	t.Helper()
	queue := conn.AttachQueue()
	select {
	case batch := <-queue:
		return batch
	default:
		return nil
	}
}

// S1 Basic fan-out: two connections subscribed to the same channel each
// receive one copy of a published message, with server-assigned uuid and
// timestamp equal across both recipients.
func TestPassMessageFanOut(t *testing.T) {
	r := New()
	connA, _ := r.Connect("A", "alice", []string{"pub_chan"}, nil, nil, nil, nil, false)
	connB, _ := r.Connect("B", "bob", []string{"pub_chan"}, nil, nil, nil, nil, false)

	env := r.PassMessage(model.Envelope{
		Channel: "pub_chan",
		User:    "alice",
		Message: map[string]any{"text": "hi"},
	})

	if env.UUID == "" || env.Timestamp.IsZero() {
		t.Fatalf("expected server-assigned uuid/timestamp, got %+v", env)
	}

	batchA := drain(t, connA)
	batchB := drain(t, connB)
	if len(batchA) != 1 || len(batchB) != 1 {
		t.Fatalf("expected exactly one envelope per recipient, got %d/%d", len(batchA), len(batchB))
	}
	if batchA[0].UUID != env.UUID || batchB[0].UUID != env.UUID {
		t.Fatalf("expected both recipients to see the same server-assigned uuid")
	}
	textA := batchA[0].Message.(map[string]any)["text"]
	if textA != "hi" {
		t.Fatalf("expected message text %q, got %v", "hi", textA)
	}
}

// A connection present in a channel by way of a pm_users match and by
// channel membership must still receive exactly one copy.
func TestPassMessageDedupAcrossChannelAndPM(t *testing.T) {
	r := New()
	conn, _ := r.Connect("A", "alice", []string{"pub_chan"}, nil, nil, nil, nil, false)

	r.PassMessage(model.Envelope{
		Channel: "pub_chan",
		PMUsers: []string{"alice"},
		User:    "system",
		Message: map[string]any{"text": "hi"},
	})

	batch := drain(t, conn)
	if len(batch) != 1 {
		t.Fatalf("expected exactly one delivered copy, got %d", len(batch))
	}
}

// S2 History bound: with history_size=3, after publishing 5 messages the
// channel keeps only the last 3, oldest first.
func TestChannelHistoryBound(t *testing.T) {
	r := New()
	r.ChannelConfig(map[string]model.ChannelConfig{
		"c": {StoreHistory: true, HistorySize: 3},
	})

	for _, text := range []string{"1", "2", "3", "4", "5"} {
		r.PassMessage(model.Envelope{Channel: "c", Message: map[string]any{"text": text}})
	}

	ch, ok := r.LookupChannel("c")
	if !ok {
		t.Fatal("expected channel c to exist")
	}
	history := ch.History(0)
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}
	want := []string{"3", "4", "5"}
	for i, w := range want {
		got := history[i].Message.(map[string]any)["text"]
		if got != w {
			t.Fatalf("history[%d]: want text %q, got %v", i, w, got)
		}
	}
}

// S5 Edit propagation: editing a message by uuid updates history and
// re-delivers a message:edit envelope to current subscribers.
func TestEditMessagePropagates(t *testing.T) {
	r := New()
	r.ChannelConfig(map[string]model.ChannelConfig{"pub_chan": {StoreHistory: true}})
	conn, _ := r.Connect("A", "alice", []string{"pub_chan"}, nil, nil, nil, nil, false)

	env := r.PassMessage(model.Envelope{
		UUID:    "U",
		Channel: "pub_chan",
		Message: map[string]any{"text": "original"},
	})
	drain(t, conn) // consume the original delivery

	edited, ok := r.EditMessage("pub_chan", env.UUID, map[string]any{"text": "edited"})
	if !ok {
		t.Fatal("expected edit to find the original envelope")
	}
	if edited.Message.(map[string]any)["text"] != "edited" {
		t.Fatalf("expected history to hold the edited message, got %+v", edited.Message)
	}

	batch := drain(t, conn)
	if len(batch) != 1 || batch[0].Type != "message:edit" {
		t.Fatalf("expected one message:edit envelope, got %+v", batch)
	}
	if batch[0].UUID != "U" {
		t.Fatalf("expected edit notice to carry the original uuid, got %q", batch[0].UUID)
	}

	ch, _ := r.LookupChannel("pub_chan")
	history := ch.History(0)
	if len(history) != 1 || history[0].Message.(map[string]any)["text"] != "edited" {
		t.Fatalf("expected history entry replaced in place, got %+v", history)
	}
}

// Editing or deleting an unknown uuid is a silent no-op (spec.md §7).
func TestEditMessageUnknownUUIDIsNoop(t *testing.T) {
	r := New()
	r.ChannelConfig(map[string]model.ChannelConfig{"pub_chan": {StoreHistory: true}})

	if _, ok := r.EditMessage("pub_chan", "does-not-exist", map[string]any{"text": "x"}); ok {
		t.Fatal("expected edit of unknown uuid to report not found")
	}
	if r.DeleteMessage("pub_chan", "does-not-exist") {
		t.Fatal("expected delete of unknown uuid to report not found")
	}
}

// S6-adjacent: unsubscribing the last presence of a user from a
// notify_presence channel emits a parted envelope to remaining members,
// and a non-salvageable empty channel is reaped.
func TestUnsubscribeEmitsPartAndReapsChannel(t *testing.T) {
	r := New()
	r.ChannelConfig(map[string]model.ChannelConfig{
		"pub_chan": {NotifyPresence: true, Salvageable: false},
	})
	connA, _ := r.Connect("A", "alice", []string{"pub_chan"}, nil, nil, nil, nil, false)
	connB, _ := r.Connect("B", "bob", []string{"pub_chan"}, nil, nil, nil, nil, false)
	drain(t, connA)
	drain(t, connB) // consume join-presence noise from each other's connect

	r.Unsubscribe("B", []string{"pub_chan"})

	batch := drain(t, connA)
	if len(batch) == 0 {
		t.Fatal("expected alice to observe bob's part presence")
	}
	last := batch[len(batch)-1]
	if last.Type != "presence" {
		t.Fatalf("expected a presence envelope, got %q", last.Type)
	}

	r.Unsubscribe("A", []string{"pub_chan"})
	if _, ok := r.LookupChannel("pub_chan"); ok {
		t.Fatal("expected empty non-salvageable channel to be reaped")
	}
}

// Idle sweep detaches a connection exactly like an explicit disconnect,
// parting presence and making the connection id unknown afterward.
func TestSweepIdleReapsStaleConnections(t *testing.T) {
	r := New()
	r.ChannelConfig(map[string]model.ChannelConfig{"pub_chan": {NotifyPresence: true}})
	r.Connect("A", "alice", []string{"pub_chan"}, nil, nil, nil, nil, false)

	reaped := r.SweepIdle(0)
	if len(reaped) != 1 || reaped[0] != "A" {
		t.Fatalf("expected connection A to be reaped, got %v", reaped)
	}
	if _, ok := r.LookupConnection("A"); ok {
		t.Fatal("expected connection A to be gone after sweep")
	}
}
