package buffer_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-catalogform/pkg/buffer"
)

func newManager(t *testing.T, primary, secondary buffer.Values) *buffer.Manager {
	t.Helper()
	m := buffer.NewManager()
	if err := m.OnPrimaryChange(primary); err != nil {
		t.Fatalf("primary change: %v", err)
	}
	if err := m.OnSecondaryChange(secondary); err != nil {
		t.Fatalf("secondary change: %v", err)
	}
	return m
}

func TestMerge_SecondaryOverridesPrimary(t *testing.T) {
	m := newManager(t,
		buffer.Values{"client": "acme", "action": "backup", "port": 22},
		buffer.Values{"port": 2222, "device_ip": "10.0.0.1"},
	)

	want := buffer.Values{
		"client":    "acme",
		"action":    "backup",
		"port":      float64(2222),
		"device_ip": "10.0.0.1",
	}
	if diff := cmp.Diff(want, m.Merge(true)); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, m.MergeDefault()); diff != "" {
		t.Fatalf("default merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_WithoutSecondaryIsPrimary(t *testing.T) {
	primary := buffer.Values{"client": "acme", "port": float64(22)}
	m := newManager(t, primary, buffer.Values{"port": 2222})

	if diff := cmp.Diff(primary, m.Merge(false)); diff != "" {
		t.Fatalf("merge(false) mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_EmptySecondaryIsIgnored(t *testing.T) {
	primary := buffer.Values{"client": "acme"}
	m := newManager(t, primary, nil)

	if diff := cmp.Diff(primary, m.Merge(true)); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestChangesAreSnapshots(t *testing.T) {
	input := buffer.Values{"owner": map[string]any{"email": "a@example.com"}}
	m := newManager(t, input, nil)

	input["owner"].(map[string]any)["email"] = "mutated@example.com"
	got, ok := m.PrimaryValue("owner.email")
	if !ok || got != "a@example.com" {
		t.Fatalf("buffer aliased caller map: %v", got)
	}

	out := m.Primary()
	out["owner"].(map[string]any)["email"] = "again@example.com"
	got, _ = m.PrimaryValue("owner.email")
	if got != "a@example.com" {
		t.Fatalf("accessor leaked internal map: %v", got)
	}
}

func TestChangeReplacesWholesale(t *testing.T) {
	m := newManager(t, buffer.Values{"a": "1", "b": "2"}, nil)
	if err := m.OnPrimaryChange(buffer.Values{"c": "3"}); err != nil {
		t.Fatalf("primary change: %v", err)
	}
	if diff := cmp.Diff(buffer.Values{"c": "3"}, m.Primary()); diff != "" {
		t.Fatalf("primary mismatch (-want +got):\n%s", diff)
	}
}

func TestRejectsNonJSONValues(t *testing.T) {
	m := buffer.NewManager()
	if err := m.OnPrimaryChange(buffer.Values{"fn": func() {}}); !errors.Is(err, buffer.ErrNotJSON) {
		t.Fatalf("expected ErrNotJSON for func, got %v", err)
	}

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	if err := m.OnSecondaryChange(buffer.Values{"loop": cyclic}); !errors.Is(err, buffer.ErrNotJSON) {
		t.Fatalf("expected ErrNotJSON for cycle, got %v", err)
	}
	if len(m.Primary()) != 0 || len(m.Secondary()) != 0 {
		t.Fatalf("rejected changes must not alter buffers")
	}
}

func TestReset(t *testing.T) {
	m := newManager(t, buffer.Values{"a": "1"}, buffer.Values{"b": "2"})

	m.ResetSecondary()
	if len(m.Secondary()) != 0 || len(m.Primary()) != 1 {
		t.Fatalf("ResetSecondary must only clear the secondary buffer")
	}

	m.Reset()
	if len(m.Primary()) != 0 || len(m.Secondary()) != 0 {
		t.Fatalf("Reset must clear both buffers")
	}
}

func TestSetPrimaryValue_Nested(t *testing.T) {
	m := buffer.NewManager()
	snapshot, err := m.SetPrimaryValue("owner.email", "a@example.com")
	if err != nil {
		t.Fatalf("set value: %v", err)
	}
	want := buffer.Values{"owner": map[string]any{"email": "a@example.com"}}
	if diff := cmp.Diff(want, snapshot); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.SetPrimaryValue("owner.email.domain", "x"); err == nil {
		t.Fatalf("expected error descending into a string")
	}
}

func TestLookup(t *testing.T) {
	values := buffer.Values{"tags": []any{"a", map[string]any{"name": "b"}}}
	if got, ok := buffer.Lookup(values, "tags.1.name"); !ok || got != "b" {
		t.Fatalf("lookup = %v, %v", got, ok)
	}
	if _, ok := buffer.Lookup(values, "tags.5"); ok {
		t.Fatalf("expected out of range lookup to fail")
	}
}
