package types

import (
	"errors"
	"fmt"
)

// NFS4StatusError is implemented by errors that map to a specific nfsstat4
// value on the wire.
type NFS4StatusError interface {
	error
	NFS4Status() uint32
}

// StatusError is the concrete error type carrying an NFS4 status code.
// Handlers map it to the appropriate wire response.
type StatusError struct {
	Status  uint32
	Message string
}

// NewStatusError returns a *StatusError with a formatted message.
func NewStatusError(status uint32, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return StatusName(e.Status)
	}
	return StatusName(e.Status) + ": " + e.Message
}

// NFS4Status implements NFS4StatusError.
func (e *StatusError) NFS4Status() uint32 { return e.Status }

// Is matches any *StatusError with the same status, so callers can write
// errors.Is(err, types.ErrDelay).
func (e *StatusError) Is(target error) bool {
	var t *StatusError
	if !errors.As(target, &t) {
		return false
	}
	return t.Status == e.Status
}

// Sentinel errors for errors.Is matching.
var (
	ErrBadXDR           = &StatusError{Status: NFS4ERR_BADXDR}
	ErrAttrNotSupp      = &StatusError{Status: NFS4ERR_ATTRNOTSUPP}
	ErrInval            = &StatusError{Status: NFS4ERR_INVAL}
	ErrBadOwner         = &StatusError{Status: NFS4ERR_BADOWNER}
	ErrBadSlot          = &StatusError{Status: NFS4ERR_BADSLOT}
	ErrBadSession       = &StatusError{Status: NFS4ERR_BADSESSION}
	ErrSeqMisordered    = &StatusError{Status: NFS4ERR_SEQ_MISORDERED}
	ErrDelay            = &StatusError{Status: NFS4ERR_DELAY}
	ErrRetryUncachedRep = &StatusError{Status: NFS4ERR_RETRY_UNCACHED_REP}
)

// StatusOf extracts the nfsstat4 value from err. nil maps to NFS4_OK and
// errors that carry no status map to NFS4ERR_SERVERFAULT.
func StatusOf(err error) uint32 {
	if err == nil {
		return NFS4_OK
	}
	var se NFS4StatusError
	if errors.As(err, &se) {
		return se.NFS4Status()
	}
	return NFS4ERR_SERVERFAULT
}
