package services

import "testing"

func TestFilterTableSize(t *testing.T) {
	ids := AllFilters()
	if len(ids) < 21 {
		t.Fatalf("expected at least 20 filters plus none, got %d", len(ids))
	}
	if ids[0] != FilterNone {
		t.Errorf("first filter = %q, want %q", ids[0], FilterNone)
	}

	seen := make(map[FilterID]bool)
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate filter id %q", id)
		}
		seen[id] = true

		if !KnownFilter(string(id)) {
			t.Errorf("filter %q listed but not in table", id)
		}
		if id != FilterNone && LookupFilter(string(id)).IsNoop() {
			t.Errorf("filter %q should have a transform", id)
		}
	}

	if len(filterTable) != len(ids) {
		t.Errorf("table has %d entries, order lists %d", len(filterTable), len(ids))
	}
}

func TestLookupFilterIsTotal(t *testing.T) {
	tests := []struct {
		name string
		id   string
		noop bool
	}{
		{name: "none", id: "none", noop: true},
		{name: "empty", id: "", noop: true},
		{name: "unknown", id: "does-not-exist", noop: true},
		{name: "caseSensitive", id: "Grayscale", noop: true},
		{name: "grayscale", id: "grayscale", noop: false},
		{name: "cyberpunk", id: "cyberpunk", noop: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LookupFilter(tt.id)
			if got.IsNoop() != tt.noop {
				t.Errorf("LookupFilter(%q) = %q, noop=%v want %v", tt.id, got, got.IsNoop(), tt.noop)
			}
		})
	}
}

func TestAllFiltersReturnsCopy(t *testing.T) {
	ids := AllFilters()
	ids[0] = "mutated"
	if AllFilters()[0] != FilterNone {
		t.Error("AllFilters should not expose the backing slice")
	}
}
