package replay

import "fmt"

// State is the lifecycle stage of a Feed.
type State int32

const (
	// StateSnapshotting: registered with the dispatcher, reading the retention buffer.
	StateSnapshotting State = iota
	// StateMerging: delivering the snapshot, then the entries buffered meanwhile.
	StateMerging
	// StateLive: forwarding dispatcher entries as they arrive.
	StateLive
	// StateClosed: unregistered; no further deliveries.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSnapshotting:
		return "snapshotting"
	case StateMerging:
		return "merging"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
