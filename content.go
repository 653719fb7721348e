package raft

import (
	"fmt"
	"strings"
)

// ContentType tags each kind of replicated content.
type ContentType uint32

const (
	// LockTokenContent is a request to become the lock token holder.
	LockTokenContent ContentType = iota + 1

	// IDAllocationContent is a request for a range of ids of one id type.
	IDAllocationContent

	// DistributedOperationContent wraps another content with the session that
	// issued it, so the operation can be deduplicated.
	DistributedOperationContent

	// NewLeaderBarrierContent is appended by a new leader and carries no state.
	NewLeaderBarrierContent
)

func (c ContentType) String() string {
	switch c {
	case LockTokenContent:
		return "lockToken"
	case IDAllocationContent:
		return "idAllocation"
	case DistributedOperationContent:
		return "distributedOperation"
	case NewLeaderBarrierContent:
		return "newLeaderBarrier"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(c))
	}
}

// Content is replicated through the log. The set of implementations is closed:
// LockTokenRequest, IDAllocationRequest, DistributedOperation and NewLeaderBarrier.
type Content interface {
	// ContentType returns the tag used to encode the content.
	ContentType() ContentType

	isContent()
}

// InvalidLockTokenID is the id of the token held before any candidate was accepted.
const InvalidLockTokenID int64 = -1

// NextCandidateID returns the only candidate id that can succeed a token with the
// provided id.
func NextCandidateID(currentID int64) int64 {
	return currentID + 1
}

// LockTokenRequest asks for the lock token to be handed to Owner under the
// generation ID. Accepted requests become the current token.
type LockTokenRequest struct {
	Owner MemberID
	ID    int64
}

// InvalidLockToken is the token held by nobody.
var InvalidLockToken = LockTokenRequest{ID: InvalidLockTokenID}

func (*LockTokenRequest) ContentType() ContentType { return LockTokenContent }
func (*LockTokenRequest) isContent()               {}

func (r LockTokenRequest) String() string {
	return fmt.Sprintf("LockTokenRequest{owner=%s, id=%d}", r.Owner, r.ID)
}

// IDType is a category of graph object identifiers.
type IDType int

const (
	NodeID IDType = iota
	RelationshipID
	PropertyID
	StringBlockID
	ArrayBlockID
	PropertyKeyTokenID
	PropertyKeyTokenNameID
	RelationshipTypeTokenID
	RelationshipTypeTokenNameID
	LabelTokenID
	LabelTokenNameID
	NeostoreBlockID
	SchemaID
	NodeLabelsID
	RelationshipGroupID

	// NumIDTypes is the number of id types.
	NumIDTypes = int(RelationshipGroupID) + 1
)

var idTypeNames = [...]string{
	"NODE",
	"RELATIONSHIP",
	"PROPERTY",
	"STRING_BLOCK",
	"ARRAY_BLOCK",
	"PROPERTY_KEY_TOKEN",
	"PROPERTY_KEY_TOKEN_NAME",
	"RELATIONSHIP_TYPE_TOKEN",
	"RELATIONSHIP_TYPE_TOKEN_NAME",
	"LABEL_TOKEN",
	"LABEL_TOKEN_NAME",
	"NEOSTORE_BLOCK",
	"SCHEMA",
	"NODE_LABELS",
	"RELATIONSHIP_GROUP",
}

// Valid reports whether t is one of the known id types.
func (t IDType) Valid() bool {
	return t >= 0 && int(t) < NumIDTypes
}

func (t IDType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("IDType(%d)", int(t))
	}
	return idTypeNames[t]
}

// ParseIDType converts a case-insensitive id type name, such as "node" or
// "label_token", into an IDType.
func ParseIDType(name string) (IDType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range idTypeNames {
		if n == upper {
			return IDType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown id type %q", name)
}

// IDAllocationRequest asks for the range [RangeStart, RangeStart+RangeLength) of
// ids of type IDType to be granted to Owner.
type IDAllocationRequest struct {
	Owner       MemberID
	IDType      IDType
	RangeStart  int64
	RangeLength int32
}

func (*IDAllocationRequest) ContentType() ContentType { return IDAllocationContent }
func (*IDAllocationRequest) isContent()               {}

func (r IDAllocationRequest) String() string {
	return fmt.Sprintf("IDAllocationRequest{owner=%s, type=%s, start=%d, length=%d}",
		r.Owner, r.IDType, r.RangeStart, r.RangeLength)
}

// DistributedOperation is content issued through a global session. The session
// tracker uses Session and OperationID to discard redelivered operations.
type DistributedOperation struct {
	Content     Content
	Session     GlobalSession
	OperationID LocalOperationID
}

func (*DistributedOperation) ContentType() ContentType { return DistributedOperationContent }
func (*DistributedOperation) isContent()               {}

func (o DistributedOperation) String() string {
	return fmt.Sprintf("DistributedOperation{session=%s, operationId=%s, content=%v}",
		o.Session, o.OperationID, o.Content)
}

// NewLeaderBarrier is appended by a newly elected leader. It is never dispatched
// to a state machine.
type NewLeaderBarrier struct{}

func (*NewLeaderBarrier) ContentType() ContentType { return NewLeaderBarrierContent }
func (*NewLeaderBarrier) isContent()               {}
