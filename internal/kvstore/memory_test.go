package kvstore

import "testing"

func TestMemoryTypedRoundTrip(t *testing.T) {
	m := NewMemory()

	m.SetString("name", "alice")
	if got := m.GetString("name"); got != "alice" {
		t.Errorf("GetString = %q, want alice", got)
	}

	m.SetBool("flag", true)
	if !m.GetBool("flag") {
		t.Error("GetBool = false, want true")
	}
	m.SetBool("flag", false)
	if m.GetBool("flag") {
		t.Error("GetBool = true, want false")
	}

	m.SetInt64("count", 1700000000000)
	if got := m.GetInt64("count"); got != 1700000000000 {
		t.Errorf("GetInt64 = %d, want 1700000000000", got)
	}
}

func TestMemoryZeroValuesForAbsentKeys(t *testing.T) {
	m := NewMemory()

	if m.GetString("missing") != "" {
		t.Error("expected empty string for absent key")
	}
	if m.GetBool("missing") {
		t.Error("expected false for absent key")
	}
	if m.GetInt64("missing") != 0 {
		t.Error("expected 0 for absent key")
	}
}

func TestMemoryMalformedValuesDegrade(t *testing.T) {
	m := NewMemory()

	m.SetString("num", "not-a-number")
	if m.GetInt64("num") != 0 {
		t.Error("expected 0 for malformed int")
	}

	m.SetString("flag", "yes")
	if m.GetBool("flag") {
		t.Error("expected false for malformed bool")
	}
}

func TestMemorySetMany(t *testing.T) {
	m := NewMemory()

	m.SetMany(map[string]interface{}{
		"s":  "value",
		"b":  true,
		"i":  42,
		"i6": int64(99),
	})

	if m.GetString("s") != "value" {
		t.Errorf("s = %q", m.GetString("s"))
	}
	if !m.GetBool("b") {
		t.Error("b = false")
	}
	if m.GetInt64("i") != 42 {
		t.Errorf("i = %d", m.GetInt64("i"))
	}
	if m.GetInt64("i6") != 99 {
		t.Errorf("i6 = %d", m.GetInt64("i6"))
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()

	m.SetString("k", "v")
	m.Delete("k")
	if m.GetString("k") != "" {
		t.Error("expected key gone after delete")
	}

	// Deleting an absent key is a no-op.
	m.Delete("never-set")
}
