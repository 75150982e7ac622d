// Package upcall carries identity cache misses to an out-of-process
// resolver over a stream socket (unix or TCP).
//
// Each message is one XDR-encoded struct sent as an ONC RPC style record:
// a 4-byte header holding the last-fragment bit and the fragment length,
// followed by the fragment. Requests and replies carry an XID so a client
// can match them, though the protocol is strictly request/reply per
// connection.
package upcall

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/nfscore/pkg/idmap"
)

const (
	lastFragment = 0x80000000

	// maxRecordSize bounds a reassembled record. Replies carry at most a
	// name and a group list.
	maxRecordSize = 1 << 20

	// Version is the protocol version carried in every call.
	Version = 1
)

// Reply status values.
const (
	StatusOK       uint32 = 0
	StatusNotFound uint32 = 1
	StatusError    uint32 = 2
	StatusBadCall  uint32 = 3
)

// ErrRecordTooLarge is returned when a peer announces a record larger than
// maxRecordSize.
var ErrRecordTooLarge = errors.New("upcall: record too large")

// call is the wire form of idmap.Request.
type call struct {
	XID     uint32
	Version uint32
	Kind    uint32
	ID      uint32
	Name    string
}

// reply is the wire form of idmap.Response.
type reply struct {
	XID        uint32
	Status     uint32
	ID         uint32
	Name       string
	GIDs       []uint32
	TTLSeconds uint32
	Message    string
}

func callFromRequest(xid uint32, req idmap.Request) call {
	return call{XID: xid, Version: Version, Kind: uint32(req.Kind), ID: req.ID, Name: req.Name}
}

func (c call) request() idmap.Request {
	return idmap.Request{Kind: idmap.UpcallKind(c.Kind), ID: c.ID, Name: c.Name}
}

func replyFromResponse(xid uint32, resp idmap.Response) reply {
	return reply{
		XID:        xid,
		Status:     StatusOK,
		ID:         resp.ID,
		Name:       resp.Name,
		GIDs:       resp.GIDs,
		TTLSeconds: uint32(resp.TTL / time.Second),
	}
}

func (r reply) response() idmap.Response {
	return idmap.Response{
		ID:   r.ID,
		Name: r.Name,
		GIDs: r.GIDs,
		TTL:  time.Duration(r.TTLSeconds) * time.Second,
	}
}

// writeMessage encodes v and writes it as a single-fragment record.
func writeMessage(w io.Writer, v any) error {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[:4], lastFragment|uint32(len(b)-4))
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// readRecord reads fragments until the last one and returns the record.
func readRecord(r io.Reader) ([]byte, error) {
	var rec []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		h := binary.BigEndian.Uint32(hdr[:])
		n := int(h &^ lastFragment)
		if len(rec)+n > maxRecordSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(rec)+n)
		}
		start := len(rec)
		rec = append(rec, make([]byte, n)...)
		if _, err := io.ReadFull(r, rec[start:]); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}
		if h&lastFragment != 0 {
			return rec, nil
		}
	}
}

// readMessage reads one record and decodes it into v.
func readMessage(r io.Reader, v any) error {
	rec, err := readRecord(r)
	if err != nil {
		return err
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(rec), v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
