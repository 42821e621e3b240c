package visualmesh

import "github.com/pkg/errors"

var (
	// ErrNoGroups is returned when a network configuration has no groups.
	ErrNoGroups = errors.New("network needs at least one group")
	// ErrEmptyGroup is returned when a group lists no sublayers.
	ErrEmptyGroup = errors.New("group needs at least one sublayer")
	// ErrInvalidWidth is returned for a sublayer width that is not positive.
	ErrInvalidWidth = errors.New("sublayer width must be positive")
	// ErrShapeMismatch is returned when tensor shapes disagree with each other or with the network.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrIndexOutOfRange is returned when an adjacency entry points outside its node array.
	ErrIndexOutOfRange = errors.New("neighbour index out of range")
)
