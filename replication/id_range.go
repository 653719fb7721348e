package replication

import (
	"context"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/internal/errors"
	"github.com/neo4j/neo4j-sub236/statemachine"
)

// ErrIDRangeNotAcquired is returned when the requested id range was granted to
// another request first.
var ErrIDRangeNotAcquired = errors.New("id range was not acquired")

const errInvalidRangeLength = "range length must be positive: %d"

// IDRange is a range of ids granted to a member.
type IDRange struct {
	Start  int64
	Length int32
}

// IDRangeAcquirer requests ranges of ids through replication. It does not retry.
type IDRangeAcquirer struct {
	member     raft.MemberID
	replicator raft.Replicator
	machine    *statemachine.IDAllocationStateMachine
}

// NewIDRangeAcquirer creates an acquirer for member.
func NewIDRangeAcquirer(member raft.MemberID, replicator raft.Replicator, machine *statemachine.IDAllocationStateMachine) *IDRangeAcquirer {
	return &IDRangeAcquirer{member: member, replicator: replicator, machine: machine}
}

// AcquireRange requests the next length ids of type t, starting at the first id
// the local state machine knows to be unallocated.
func (a *IDRangeAcquirer) AcquireRange(ctx context.Context, t raft.IDType, length int32) (IDRange, error) {
	if length <= 0 {
		return IDRange{}, errors.WrapError(nil, errInvalidRangeLength, length)
	}
	start, err := a.machine.FirstUnallocated(t)
	if err != nil {
		return IDRange{}, err
	}

	request := &raft.IDAllocationRequest{Owner: a.member, IDType: t, RangeStart: start, RangeLength: length}
	future, err := a.replicator.Replicate(ctx, request, true)
	if err != nil {
		return IDRange{}, err
	}
	result := future.Await(ctx)
	if err := result.Error(); err != nil {
		return IDRange{}, err
	}
	if granted, ok := result.Success().(bool); !ok || !granted {
		return IDRange{}, ErrIDRangeNotAcquired
	}
	return IDRange{Start: start, Length: length}, nil
}
