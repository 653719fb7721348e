package raft

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemberID(t *testing.T) {
	id := NewMemberID()
	require.False(t, id.IsZero())
	require.True(t, MemberID{}.IsZero())
	require.Equal(t, "MemberID{none}", MemberID{}.String())

	parsed, err := ParseMemberID(uuid.UUID(id).String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseMemberID("member-1")
	require.Error(t, err)
}

func TestGlobalSession(t *testing.T) {
	owner := NewMemberID()
	first, second := NewGlobalSession(owner), NewGlobalSession(owner)
	require.Equal(t, owner, first.Owner)
	require.NotEqual(t, first.SessionID, second.SessionID)
}
