package presence

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	d := NewDirectory()

	if _, ok := d.Register("u1", "conn-a"); ok {
		t.Error("expected no displaced connection on first register")
	}

	connID, ok := d.Lookup("u1")
	if !ok || connID != "conn-a" {
		t.Fatalf("expected conn-a for u1, got %q (ok=%v)", connID, ok)
	}

	userID, ok := d.UserOf("conn-a")
	if !ok || userID != "u1" {
		t.Fatalf("expected u1 for conn-a, got %q (ok=%v)", userID, ok)
	}
}

func TestReRegisterOverwrites(t *testing.T) {
	d := NewDirectory()
	d.Register("u1", "conn-a")

	displaced, ok := d.Register("u1", "conn-b")
	if !ok || displaced != "conn-a" {
		t.Fatalf("expected conn-a displaced, got %q (ok=%v)", displaced, ok)
	}

	connID, _ := d.Lookup("u1")
	if connID != "conn-b" {
		t.Errorf("expected u1 -> conn-b after re-register, got %q", connID)
	}

	// The displaced connection must no longer resolve to the user.
	if _, ok := d.UserOf("conn-a"); ok {
		t.Error("expected conn-a reverse entry removed after overwrite")
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	d := NewDirectory()
	d.Register("u1", "conn-a")

	userID, ok := d.Unregister("conn-a")
	if !ok || userID != "u1" {
		t.Fatalf("expected u1 returned, got %q (ok=%v)", userID, ok)
	}

	if _, ok := d.Lookup("u1"); ok {
		t.Error("expected u1 gone after unregister")
	}
	if d.Len() != 0 {
		t.Errorf("expected empty directory, got %d entries", d.Len())
	}

	// Unregistering again is a no-op.
	if _, ok := d.Unregister("conn-a"); ok {
		t.Error("expected second unregister to report not found")
	}
}

func TestUnregisterStaleConnKeepsNewEntry(t *testing.T) {
	d := NewDirectory()
	d.Register("u1", "conn-a")
	d.Register("u1", "conn-b")

	// The old connection disconnecting late must not evict the new entry.
	if _, ok := d.Unregister("conn-a"); ok {
		t.Error("expected conn-a already unregistered by the overwrite")
	}

	connID, ok := d.Lookup("u1")
	if !ok || connID != "conn-b" {
		t.Errorf("expected u1 -> conn-b preserved, got %q (ok=%v)", connID, ok)
	}
}

func TestConnReusedForDifferentUser(t *testing.T) {
	d := NewDirectory()
	d.Register("u1", "conn-a")
	d.Register("u2", "conn-a")

	if _, ok := d.Lookup("u1"); ok {
		t.Error("expected u1 entry removed when its connection re-registered as u2")
	}
	connID, _ := d.Lookup("u2")
	if connID != "conn-a" {
		t.Errorf("expected u2 -> conn-a, got %q", connID)
	}
}

func TestChannelFor(t *testing.T) {
	cases := []struct {
		userID   string
		expected ChannelKey
	}{
		{"42", "notify.user.42"},
		{"user-abc", "notify.user.user-abc"},
	}
	for _, tc := range cases {
		if got := ChannelFor(tc.userID); got != tc.expected {
			t.Errorf("ChannelFor(%q): expected %q, got %q", tc.userID, tc.expected, got)
		}
	}
}
