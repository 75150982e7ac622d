package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/marmos91/nfscore/internal/protocol/xdr"
)

// ============================================================================
// SessionId4 - Session Identifier (16 bytes, fixed-size opaque)
// ============================================================================

// SessionId4 is an NFSv4.1 session identifier. It is encoded as raw 16 bytes
// with no length prefix.
type SessionId4 [NFS4_SESSIONID_SIZE]byte

// Encode writes the session ID as raw 16 bytes.
func (s *SessionId4) Encode(buf *bytes.Buffer) error {
	buf.Write(s[:])
	return nil
}

// Decode reads 16 bytes from the reader into the session ID.
func (s *SessionId4) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return fmt.Errorf("decode session_id: %w", err)
	}
	return nil
}

// String returns the session ID as a hex string.
func (s SessionId4) String() string {
	return hex.EncodeToString(s[:])
}

// ParseSessionId4 parses the hex form produced by String.
func ParseSessionId4(s string) (SessionId4, error) {
	var id SessionId4
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse session id: %w", err)
	}
	if len(b) != NFS4_SESSIONID_SIZE {
		return id, fmt.Errorf("parse session id: want %d bytes, got %d", NFS4_SESSIONID_SIZE, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ============================================================================
// SEQUENCE4args - Request header
// ============================================================================

// SequenceArgs is the slot sequencing header that opens every NFSv4.1
// COMPOUND (RFC 8881 Section 18.46).
//
//	struct SEQUENCE4args {
//	    sessionid4     sa_sessionid;
//	    sequenceid4    sa_sequenceid;
//	    slotid4        sa_slotid;
//	    slotid4        sa_highest_slotid;
//	    bool           sa_cachethis;
//	};
type SequenceArgs struct {
	SessionID     SessionId4
	SequenceID    uint32
	SlotID        uint32
	HighestSlotID uint32
	CacheThis     bool
}

// SequenceArgsSize is the encoded size of SequenceArgs in bytes.
const SequenceArgsSize = NFS4_SESSIONID_SIZE + 4*4

// Encode writes the SEQUENCE args in XDR format.
func (a *SequenceArgs) Encode(buf *bytes.Buffer) error {
	_ = a.SessionID.Encode(buf)
	_ = xdr.WriteUint32(buf, a.SequenceID)
	_ = xdr.WriteUint32(buf, a.SlotID)
	_ = xdr.WriteUint32(buf, a.HighestSlotID)
	return xdr.WriteBool(buf, a.CacheThis)
}

// Decode reads the SEQUENCE args from XDR format. A truncated header is
// reported as NFS4ERR_BADXDR.
func (a *SequenceArgs) Decode(r io.Reader) error {
	if err := a.SessionID.Decode(r); err != nil {
		return NewStatusError(NFS4ERR_BADXDR, "%v", err)
	}
	var err error
	if a.SequenceID, err = xdr.DecodeUint32(r); err != nil {
		return NewStatusError(NFS4ERR_BADXDR, "decode sequenceid: %v", err)
	}
	if a.SlotID, err = xdr.DecodeUint32(r); err != nil {
		return NewStatusError(NFS4ERR_BADXDR, "decode slotid: %v", err)
	}
	if a.HighestSlotID, err = xdr.DecodeUint32(r); err != nil {
		return NewStatusError(NFS4ERR_BADXDR, "decode highest_slotid: %v", err)
	}
	if a.CacheThis, err = xdr.DecodeBool(r); err != nil {
		return NewStatusError(NFS4ERR_BADXDR, "decode cachethis: %v", err)
	}
	return nil
}

// String returns a human-readable representation.
func (a *SequenceArgs) String() string {
	return fmt.Sprintf("SEQUENCE4args{session=%s, seq=%d, slot=%d, highest=%d, cache=%t}",
		a.SessionID, a.SequenceID, a.SlotID, a.HighestSlotID, a.CacheThis)
}

// ============================================================================
// SEQUENCE4res - Response
// ============================================================================

// SequenceRes is the SEQUENCE result.
//
//	union SEQUENCE4res switch (nfsstat4 sr_status) {
//	 case NFS4_OK:
//	    sessionid4      sr_sessionid;
//	    sequenceid4     sr_sequenceid;
//	    slotid4         sr_slotid;
//	    slotid4         sr_highest_slotid;
//	    slotid4         sr_target_highest_slotid;
//	    uint32_t        sr_status_flags;
//	 default:
//	    void;
//	};
type SequenceRes struct {
	Status              uint32
	SessionID           SessionId4
	SequenceID          uint32
	SlotID              uint32
	HighestSlotID       uint32
	TargetHighestSlotID uint32
	StatusFlags         uint32
}

// Encode writes the SEQUENCE response in XDR format.
func (r *SequenceRes) Encode(buf *bytes.Buffer) error {
	_ = xdr.WriteUint32(buf, r.Status)
	if r.Status != NFS4_OK {
		return nil
	}
	_ = r.SessionID.Encode(buf)
	_ = xdr.WriteUint32(buf, r.SequenceID)
	_ = xdr.WriteUint32(buf, r.SlotID)
	_ = xdr.WriteUint32(buf, r.HighestSlotID)
	_ = xdr.WriteUint32(buf, r.TargetHighestSlotID)
	return xdr.WriteUint32(buf, r.StatusFlags)
}

// Decode reads the SEQUENCE response from XDR format.
func (r *SequenceRes) Decode(rd io.Reader) error {
	status, err := xdr.DecodeUint32(rd)
	if err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	*r = SequenceRes{Status: status}
	if status != NFS4_OK {
		return nil
	}
	if err := r.SessionID.Decode(rd); err != nil {
		return err
	}
	for _, p := range []*uint32{&r.SequenceID, &r.SlotID, &r.HighestSlotID, &r.TargetHighestSlotID, &r.StatusFlags} {
		if *p, err = xdr.DecodeUint32(rd); err != nil {
			return fmt.Errorf("decode sequence result: %w", err)
		}
	}
	return nil
}
