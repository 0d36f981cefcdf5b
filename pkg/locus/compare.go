package locus

// Action is the comparator's verdict on an incoming snapshot.
type Action int

const (
	// ActionUseIncoming adopts the incoming snapshot wholesale.
	ActionUseIncoming Action = iota
	// ActionFetch means neither copy is authoritative; re-fetch the full
	// locus and compare again.
	ActionFetch
	// ActionIgnore drops the incoming snapshot as stale or duplicate.
	ActionIgnore
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case ActionUseIncoming:
		return "use-incoming"
	case ActionFetch:
		return "fetch"
	case ActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Comparator classifies an incoming snapshot against the current one.
// The call controller consults it on every update it did not originate.
type Comparator interface {
	Compare(current, incoming *Locus) Action
}

// SequenceComparator orders snapshots by their sequence numbers:
//
//   - incoming at or behind the current value is a duplicate → ignore
//   - incoming whose base is past the current value implies the client
//     missed intermediate deltas → fetch a full copy
//   - otherwise the incoming snapshot directly extends ours → use it
type SequenceComparator struct{}

func (SequenceComparator) Compare(current, incoming *Locus) Action {
	if incoming == nil {
		return ActionIgnore
	}
	if current == nil {
		return ActionUseIncoming
	}
	if incoming.Sequence.Value <= current.Sequence.Value {
		return ActionIgnore
	}
	if incoming.Sequence.Base > current.Sequence.Value {
		return ActionFetch
	}
	return ActionUseIncoming
}
