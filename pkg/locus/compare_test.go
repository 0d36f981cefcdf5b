package locus

import "testing"

func seqLocus(value, base int64) *Locus {
	return &Locus{Sequence: Sequence{Value: value, Base: base}}
}

func TestAction_String(t *testing.T) {
	tests := []struct {
		action   Action
		expected string
	}{
		{ActionUseIncoming, "use-incoming"},
		{ActionFetch, "fetch"},
		{ActionIgnore, "ignore"},
		{Action(999), "unknown"},
	}

	for _, test := range tests {
		if got := test.action.String(); got != test.expected {
			t.Errorf("Action(%d).String() = %q, want %q", test.action, got, test.expected)
		}
	}
}

func TestSequenceComparator(t *testing.T) {
	tests := []struct {
		name     string
		current  *Locus
		incoming *Locus
		expected Action
	}{
		{"nil incoming", seqLocus(5, 5), nil, ActionIgnore},
		{"nil current adopts", nil, seqLocus(1, 1), ActionUseIncoming},
		{"duplicate sequence", seqLocus(5, 5), seqLocus(5, 5), ActionIgnore},
		{"older sequence", seqLocus(5, 5), seqLocus(3, 3), ActionIgnore},
		{"direct successor", seqLocus(5, 5), seqLocus(6, 5), ActionUseIncoming},
		{"contiguous delta", seqLocus(5, 5), seqLocus(6, 4), ActionUseIncoming},
		{"gap in deltas", seqLocus(5, 5), seqLocus(9, 8), ActionFetch},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := (SequenceComparator{}).Compare(test.current, test.incoming); got != test.expected {
				t.Errorf("Compare() = %s, want %s", got, test.expected)
			}
		})
	}
}
