package model

import "testing"

func TestChannelPresenceJoinPart(t *testing.T) {
	c := NewChannel("c", NewChannelConfig())

	if joined := c.AddConnection("alice"); !joined {
		t.Fatal("expected alice's first connection to report a join")
	}
	if joined := c.AddConnection("alice"); joined {
		t.Fatal("expected alice's second connection to not report another join")
	}

	parted, empty := c.RemoveConnection("alice")
	if parted || empty {
		t.Fatalf("expected one remaining connection to prevent part/empty, got parted=%v empty=%v", parted, empty)
	}

	parted, empty = c.RemoveConnection("alice")
	if !parted || !empty {
		t.Fatalf("expected last connection removal to part and empty the channel, got parted=%v empty=%v", parted, empty)
	}
}

func TestChannelHistoryRespectsStoreHistoryAndNoHistory(t *testing.T) {
	c := NewChannel("c", ChannelConfig{StoreHistory: false, HistorySize: 10})
	c.AppendHistory(Envelope{UUID: "1"})
	if len(c.History(0)) != 0 {
		t.Fatal("expected no history stored when store_history is false")
	}

	c.Config.StoreHistory = true
	c.AppendHistory(Envelope{UUID: "1", NoHistory: true})
	if len(c.History(0)) != 0 {
		t.Fatal("expected no_history envelopes to be skipped even when store_history is true")
	}

	c.AppendHistory(Envelope{UUID: "2"})
	if len(c.History(0)) != 1 {
		t.Fatal("expected a normal envelope to be stored")
	}
}

func TestChannelConfigMergeTreatsZeroHistorySizeAsUnset(t *testing.T) {
	base := NewChannelConfig()
	merged := base.Merge(ChannelConfig{NotifyPresence: true})
	if merged.HistorySize != DefaultHistorySize {
		t.Fatalf("expected history size to stay at default, got %d", merged.HistorySize)
	}
	if !merged.NotifyPresence {
		t.Fatal("expected notify_presence to be applied from the patch")
	}

	merged = merged.Merge(ChannelConfig{HistorySize: 5})
	if merged.HistorySize != 5 {
		t.Fatalf("expected patch history size to override, got %d", merged.HistorySize)
	}
}
