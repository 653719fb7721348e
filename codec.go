package raft

import (
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/neo4j/neo4j-sub236/internal/errors"
)

// Error strings.
const (
	errFailedContentDecode = "failed to decode replicated content: %s"
	errUnknownContentType  = "unknown replicated content type %d"
	errMissingContentType  = "replicated content has no type"
)

// Field numbers shared by every content encoding. Content specific fields start
// at fieldFirst.
const (
	fieldType  protowire.Number = 1
	fieldFirst protowire.Number = 2
)

// EncodeContent encodes content into the protobuf wire format. The encoding is
// what the log stores as the opaque payload of an entry.
func EncodeContent(content Content) ([]byte, error) {
	if content == nil {
		return nil, errors.New("cannot encode nil content")
	}
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(content.ContentType()))

	switch c := content.(type) {
	case *LockTokenRequest:
		b = appendMember(b, fieldFirst, c.Owner)
		b = appendSigned(b, fieldFirst+1, c.ID)
	case *IDAllocationRequest:
		b = appendMember(b, fieldFirst, c.Owner)
		b = appendSigned(b, fieldFirst+1, int64(c.IDType))
		b = appendSigned(b, fieldFirst+2, c.RangeStart)
		b = appendSigned(b, fieldFirst+3, int64(c.RangeLength))
	case *DistributedOperation:
		nested, err := EncodeContent(c.Content)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldFirst, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Session.SessionID[:])
		b = appendMember(b, fieldFirst+1, c.Session.Owner)
		b = appendSigned(b, fieldFirst+2, c.OperationID.LocalSessionID)
		b = appendSigned(b, fieldFirst+3, c.OperationID.SequenceNumber)
		b = protowire.AppendTag(b, fieldFirst+4, protowire.BytesType)
		b = protowire.AppendBytes(b, nested)
	case *NewLeaderBarrier:
	default:
		return nil, errors.WrapError(nil, errUnknownContentType, uint32(content.ContentType()))
	}

	return b, nil
}

// DecodeContent decodes content produced by EncodeContent.
func DecodeContent(b []byte) (Content, error) {
	fields, err := consumeFields(b)
	if err != nil {
		return nil, err
	}

	typeField, ok := fields[fieldType]
	if !ok {
		return nil, errors.New(errMissingContentType)
	}

	switch ContentType(typeField.varint) {
	case LockTokenContent:
		owner, err := fields.member(fieldFirst)
		if err != nil {
			return nil, err
		}
		return &LockTokenRequest{Owner: owner, ID: fields.signed(fieldFirst + 1)}, nil
	case IDAllocationContent:
		owner, err := fields.member(fieldFirst)
		if err != nil {
			return nil, err
		}
		return &IDAllocationRequest{
			Owner:       owner,
			IDType:      IDType(fields.signed(fieldFirst + 1)),
			RangeStart:  fields.signed(fieldFirst + 2),
			RangeLength: int32(fields.signed(fieldFirst + 3)),
		}, nil
	case DistributedOperationContent:
		sessionID, err := uuid.FromBytes(fields[fieldFirst].bytes)
		if err != nil {
			return nil, errors.WrapError(err, errFailedContentDecode, "invalid session id")
		}
		owner, err := fields.member(fieldFirst + 1)
		if err != nil {
			return nil, err
		}
		nested, err := DecodeContent(fields[fieldFirst+4].bytes)
		if err != nil {
			return nil, err
		}
		return &DistributedOperation{
			Content: nested,
			Session: GlobalSession{SessionID: sessionID, Owner: owner},
			OperationID: LocalOperationID{
				LocalSessionID: fields.signed(fieldFirst + 2),
				SequenceNumber: fields.signed(fieldFirst + 3),
			},
		}, nil
	case NewLeaderBarrierContent:
		return &NewLeaderBarrier{}, nil
	default:
		return nil, errors.WrapError(nil, errUnknownContentType, typeField.varint)
	}
}

func appendMember(b []byte, num protowire.Number, member MemberID) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, member[:])
}

func appendSigned(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

type field struct {
	varint uint64
	bytes  []byte
}

type fieldSet map[protowire.Number]field

func consumeFields(b []byte) (fieldSet, error) {
	fields := make(fieldSet)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WrapError(protowire.ParseError(n), errFailedContentDecode, "malformed tag")
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.WrapError(protowire.ParseError(n), errFailedContentDecode, "malformed varint")
			}
			fields[num] = field{varint: v}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.WrapError(protowire.ParseError(n), errFailedContentDecode, "malformed bytes")
			}
			fields[num] = field{bytes: v}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.WrapError(protowire.ParseError(n), errFailedContentDecode, "malformed field")
			}
			b = b[n:]
		}
	}
	return fields, nil
}

func (f fieldSet) signed(num protowire.Number) int64 {
	return protowire.DecodeZigZag(f[num].varint)
}

func (f fieldSet) member(num protowire.Number) (MemberID, error) {
	raw := f[num].bytes
	if len(raw) == 0 {
		return MemberID{}, nil
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return MemberID{}, errors.WrapError(err, errFailedContentDecode, "invalid member id")
	}
	return MemberID(id), nil
}
