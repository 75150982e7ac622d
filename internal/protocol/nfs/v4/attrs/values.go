package attrs

import (
	"time"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

// Value is the Go form of one attribute. The concrete type depends on the
// attribute's Kind:
//
//	KindBool       bool
//	KindUint32     uint32
//	KindUint64     uint64
//	KindTime       Time
//	KindSetTime    SetTime
//	KindFsid       Fsid
//	KindSpecData   SpecData
//	KindBitmap     Bitmap
//	KindHandle     []byte
//	KindString     string
//	KindOwner      Identity
//	KindGroup      Identity
//	KindACL        []ACE
//	KindUint32List []uint32
//	KindModeUmask  ModeUmask
type Value any

// Time is nfstime4: signed seconds since the epoch plus nanoseconds.
type Time struct {
	Seconds  int64
	Nseconds uint32
}

// TimeFrom converts a time.Time to nfstime4.
func TimeFrom(t time.Time) Time {
	return Time{Seconds: t.Unix(), Nseconds: uint32(t.Nanosecond())}
}

// Go converts an nfstime4 to time.Time.
func (t Time) Go() time.Time {
	return time.Unix(t.Seconds, int64(t.Nseconds))
}

// Valid reports whether the nanosecond field is in range.
func (t Time) Valid() bool {
	return t.Nseconds < 1e9
}

// SetTime is settime4, the write-only form used by time_access_set and
// time_modify_set.
type SetTime struct {
	How  uint32 // types.SET_TO_SERVER_TIME4 or types.SET_TO_CLIENT_TIME4
	Time Time   // meaningful only for SET_TO_CLIENT_TIME4
}

// ServerTime reports whether the server clock should be used.
func (s SetTime) ServerTime() bool {
	return s.How == types.SET_TO_SERVER_TIME4
}

// Fsid is fsid4.
type Fsid struct {
	Major uint64
	Minor uint64
}

// SpecData is specdata4, the device numbers of a block or character device.
type SpecData struct {
	Major uint32
	Minor uint32
}

// Identity is the decoded form of owner and owner_group. Name is the wire
// string; ID is the numeric id it resolved to, or the configured default
// when Mapped is false.
type Identity struct {
	ID     uint32
	Name   string
	Mapped bool
}

// ACE is nfsace4.
type ACE struct {
	Type       uint32
	Flag       uint32
	AccessMask uint32
	Who        string
}

// ModeUmask is mode_umask4 (RFC 8275).
type ModeUmask struct {
	Mode  uint32
	Umask uint32
}
