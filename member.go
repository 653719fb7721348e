package raft

import (
	"fmt"

	"github.com/google/uuid"
)

// MemberID identifies a member of the cluster. Member identities are assumed to
// be unique across the cluster; the lock manager compares them by equality only.
type MemberID uuid.UUID

// NewMemberID generates a random member identity.
func NewMemberID() MemberID {
	return MemberID(uuid.New())
}

// ParseMemberID parses the textual form of a member identity.
func ParseMemberID(s string) (MemberID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return MemberID{}, fmt.Errorf("invalid member id %q: %w", s, err)
	}
	return MemberID(id), nil
}

// IsZero reports whether the identity is unset.
func (m MemberID) IsZero() bool {
	return m == MemberID{}
}

func (m MemberID) String() string {
	if m.IsZero() {
		return "MemberID{none}"
	}
	return "MemberID{" + uuid.UUID(m).String()[:8] + "}"
}

// GlobalSession identifies a client process. The session id changes whenever the
// owning member restarts its replicator, which abandons every local session
// recorded under the previous id.
type GlobalSession struct {
	SessionID uuid.UUID
	Owner     MemberID
}

// NewGlobalSession creates a global session with a fresh session id for owner.
func NewGlobalSession(owner MemberID) GlobalSession {
	return GlobalSession{SessionID: uuid.New(), Owner: owner}
}

func (g GlobalSession) String() string {
	return fmt.Sprintf("GlobalSession{sessionId=%s, owner=%s}", g.SessionID, g.Owner)
}

// LocalOperationID identifies one operation within a local session. Sequence
// numbers start at zero and increase by one for every operation in the session.
type LocalOperationID struct {
	LocalSessionID int64
	SequenceNumber int64
}

func (l LocalOperationID) String() string {
	return fmt.Sprintf("LocalOperationID{session=%d, sequence=%d}", l.LocalSessionID, l.SequenceNumber)
}
