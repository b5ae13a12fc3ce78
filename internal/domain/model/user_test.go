package model

import "testing"

func TestChangeStateReportsOnlyActualChanges(t *testing.T) {
	u := NewUser("alice")

	changed := u.ChangeState(map[string]any{"status": "online", "mood": "happy"})
	if len(changed) != 2 {
		t.Fatalf("expected both keys to be reported as changed, got %v", changed)
	}

	changed = u.ChangeState(map[string]any{"status": "online"})
	if len(changed) != 0 {
		t.Fatalf("expected re-setting the same scalar value to report no change, got %v", changed)
	}

	changed = u.ChangeState(map[string]any{"status": "away"})
	if len(changed) != 1 || changed[0] != "status" {
		t.Fatalf("expected status to be reported changed, got %v", changed)
	}
}

func TestChangeStateNilRemovesKey(t *testing.T) {
	u := NewUser("alice")
	u.ChangeState(map[string]any{"status": "online"})

	changed := u.ChangeState(map[string]any{"status": nil})
	if len(changed) != 1 || changed[0] != "status" {
		t.Fatalf("expected removal to be reported as a change, got %v", changed)
	}
	if _, ok := u.State()["status"]; ok {
		t.Fatal("expected status key to be removed from state")
	}
}

// Map/slice-valued state keys are always treated as changed, since they
// aren't comparable with Go's == — see comparable() in user.go.
func TestChangeStateMapValuesAlwaysReportChanged(t *testing.T) {
	u := NewUser("alice")
	first := map[string]any{"a": 1}
	u.ChangeState(map[string]any{"prefs": first})

	second := map[string]any{"a": 1}
	changed := u.ChangeState(map[string]any{"prefs": second})
	if len(changed) != 1 {
		t.Fatalf("expected map-valued state to always report changed, got %v", changed)
	}
}

func TestPublicViewProjectsOnlyDeclaredKeys(t *testing.T) {
	u := NewUser("alice")
	u.ChangeState(map[string]any{"status": "online", "secret": "shh"})
	u.StatePublicKeys = []string{"status"}

	view := u.PublicView()
	if len(view) != 1 || view["status"] != "online" {
		t.Fatalf("expected public view to contain only status, got %v", view)
	}
}

func TestStateOrderingIsInsertionOrder(t *testing.T) {
	u := NewUser("alice")
	u.ChangeState(map[string]any{"b": 1})
	u.ChangeState(map[string]any{"a": 1})
	u.ChangeState(map[string]any{"b": 2})

	var keys []string
	for _, k := range u.stateKeys {
		keys = append(keys, k)
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("expected insertion order [b a] preserved across updates, got %v", keys)
	}
}
