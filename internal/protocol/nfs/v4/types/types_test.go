package types

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestSequenceArgsLayout(t *testing.T) {
	args := SequenceArgs{SequenceID: 5, SlotID: 2, HighestSlotID: 7, CacheThis: true}
	for i := range args.SessionID {
		args.SessionID[i] = byte(i)
	}

	var buf bytes.Buffer
	if err := args.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != SequenceArgsSize {
		t.Fatalf("encoded %d bytes, want %d", buf.Len(), SequenceArgsSize)
	}
	want := []byte{0, 0, 0, 5, 0, 0, 0, 2, 0, 0, 0, 7, 0, 0, 0, 1}
	if !bytes.Equal(buf.Bytes()[16:], want) {
		t.Errorf("header tail = %x, want %x", buf.Bytes()[16:], want)
	}

	var got SequenceArgs
	if err := got.Decode(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if got != args {
		t.Errorf("decoded %v, want %v", got.String(), args.String())
	}
}

func TestSequenceArgsTruncated(t *testing.T) {
	var got SequenceArgs
	err := got.Decode(bytes.NewReader(make([]byte, 20)))
	if StatusOf(err) != NFS4ERR_BADXDR {
		t.Fatalf("StatusOf = %d, want NFS4ERR_BADXDR", StatusOf(err))
	}
}

func TestSequenceResErrorHasNoBody(t *testing.T) {
	res := SequenceRes{Status: NFS4ERR_DELAY, SlotID: 3}
	var buf bytes.Buffer
	_ = res.Encode(&buf)
	if buf.Len() != 4 {
		t.Fatalf("error result encoded %d bytes, want 4", buf.Len())
	}

	var got SequenceRes
	if err := got.Decode(&buf); err != nil {
		t.Fatal(err)
	}
	if got.Status != NFS4ERR_DELAY || got.SlotID != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestParseSessionId4(t *testing.T) {
	var id SessionId4
	id[0], id[15] = 0xab, 0xcd
	got, err := ParseSessionId4(id.String())
	if err != nil || got != id {
		t.Fatalf("ParseSessionId4 round trip = %v, %v", got, err)
	}
	if _, err := ParseSessionId4("abcd"); err == nil {
		t.Error("expected error for short id")
	}
}

func TestStatusErrorMatching(t *testing.T) {
	err := fmt.Errorf("slot 3: %w", NewStatusError(NFS4ERR_DELAY, "in progress"))
	if !errors.Is(err, ErrDelay) {
		t.Error("errors.Is(err, ErrDelay) = false")
	}
	if errors.Is(err, ErrBadSlot) {
		t.Error("errors.Is(err, ErrBadSlot) = true")
	}
	if StatusOf(err) != NFS4ERR_DELAY {
		t.Errorf("StatusOf = %d", StatusOf(err))
	}
	if StatusOf(errors.New("plain")) != NFS4ERR_SERVERFAULT {
		t.Error("plain errors should map to SERVERFAULT")
	}
	if StatusOf(nil) != NFS4_OK {
		t.Error("nil should map to NFS4_OK")
	}
}
