package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestContentCodec(t *testing.T) {
	owner := NewMemberID()
	session := NewGlobalSession(owner)

	contents := []Content{
		&LockTokenRequest{Owner: owner, ID: 7},
		&LockTokenRequest{ID: InvalidLockTokenID},
		&IDAllocationRequest{Owner: owner, IDType: LabelTokenID, RangeStart: 1024, RangeLength: 256},
		&DistributedOperation{
			Content:     &LockTokenRequest{Owner: owner, ID: 0},
			Session:     session,
			OperationID: LocalOperationID{LocalSessionID: 3, SequenceNumber: 11},
		},
		&NewLeaderBarrier{},
	}

	for _, content := range contents {
		t.Run(content.ContentType().String(), func(t *testing.T) {
			encoded, err := EncodeContent(content)
			require.NoError(t, err)
			decoded, err := DecodeContent(encoded)
			require.NoError(t, err)
			require.Equal(t, content, decoded)
		})
	}
}

func TestDecodeContentRejectsGarbage(t *testing.T) {
	_, err := DecodeContent(nil)
	require.Error(t, err)

	_, err = DecodeContent([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)

	unknown := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	unknown = protowire.AppendVarint(unknown, 99)
	_, err = DecodeContent(unknown)
	require.Error(t, err)
}

func TestDecodeContentSkipsUnknownFields(t *testing.T) {
	encoded, err := EncodeContent(&LockTokenRequest{ID: 4})
	require.NoError(t, err)
	encoded = protowire.AppendTag(encoded, 40, protowire.Fixed64Type)
	encoded = protowire.AppendFixed64(encoded, 1)

	decoded, err := DecodeContent(encoded)
	require.NoError(t, err)
	require.Equal(t, &LockTokenRequest{ID: 4}, decoded)
}

func TestNextCandidateID(t *testing.T) {
	require.Equal(t, int64(0), NextCandidateID(InvalidLockTokenID))
	require.Equal(t, int64(5), NextCandidateID(4))
}

func TestIDTypeString(t *testing.T) {
	require.Equal(t, "NODE", NodeID.String())
	require.Equal(t, "RELATIONSHIP_GROUP", RelationshipGroupID.String())
	require.False(t, IDType(NumIDTypes).Valid())
}

func TestParseIDType(t *testing.T) {
	id, err := ParseIDType("label_token")
	require.NoError(t, err)
	require.Equal(t, LabelTokenID, id)

	id, err = ParseIDType(" Node ")
	require.NoError(t, err)
	require.Equal(t, NodeID, id)

	_, err = ParseIDType("edge")
	require.Error(t, err)
}
