package model

// State is the leadership state of a database handle
type State int

const (
	// StateFollower forwards writes to the current leader
	StateFollower State = iota
	// StateCandidate has published a claim and is waiting out the claim window
	StateCandidate
	// StateLeader owns the engine connection and applies writes directly
	StateLeader
	// StateReleased is terminal; the handle has been closed
	StateReleased
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}
