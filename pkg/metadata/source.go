package metadata

import (
	"context"
	"errors"
	"math"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/telemetry"
)

// FSInfo holds the per-file-system attributes that do not vary by object.
type FSInfo struct {
	Fsid        attrs.Fsid
	LeaseTime   uint32
	MaxName     uint32
	MaxLink     uint32
	MaxRead     uint64
	MaxWrite    uint64
	MaxFileSize uint64
	TimeDelta   attrs.Time
}

// DefaultFSInfo returns the limits advertised when none are configured.
func DefaultFSInfo() FSInfo {
	return FSInfo{
		Fsid:        attrs.Fsid{Major: 0, Minor: 1},
		LeaseTime:   90,
		MaxName:     255,
		MaxLink:     32767,
		MaxRead:     1 << 20,
		MaxWrite:    1 << 20,
		MaxFileSize: math.MaxInt64,
		TimeDelta:   attrs.Time{Nseconds: 1},
	}
}

func (fs FSInfo) attribute(id attrs.AttrID) (attrs.Value, bool) {
	switch id {
	case attrs.FATTR4_FH_EXPIRE_TYPE:
		return uint32(types.FH4_PERSISTENT), true
	case attrs.FATTR4_LINK_SUPPORT, attrs.FATTR4_SYMLINK_SUPPORT,
		attrs.FATTR4_UNIQUE_HANDLES, attrs.FATTR4_CANSETTIME,
		attrs.FATTR4_CASE_PRESERVING, attrs.FATTR4_CHOWN_RESTRICTED,
		attrs.FATTR4_HOMOGENEOUS, attrs.FATTR4_NO_TRUNC:
		return true, true
	case attrs.FATTR4_NAMED_ATTR, attrs.FATTR4_CASE_INSENSITIVE, attrs.FATTR4_XATTR_SUPPORT:
		return false, true
	case attrs.FATTR4_FSID:
		return fs.Fsid, true
	case attrs.FATTR4_LEASE_TIME:
		return fs.LeaseTime, true
	case attrs.FATTR4_RDATTR_ERROR:
		return uint32(types.NFS4_OK), true
	case attrs.FATTR4_ACLSUPPORT:
		return uint32(0), true
	case attrs.FATTR4_MAXNAME:
		return fs.MaxName, true
	case attrs.FATTR4_MAXLINK:
		return fs.MaxLink, true
	case attrs.FATTR4_MAXREAD:
		return fs.MaxRead, true
	case attrs.FATTR4_MAXWRITE:
		return fs.MaxWrite, true
	case attrs.FATTR4_MAXFILESIZE:
		return fs.MaxFileSize, true
	case attrs.FATTR4_TIME_DELTA:
		return fs.TimeDelta, true
	}
	return nil, false
}

func statfsAttr(id attrs.AttrID) bool {
	switch id {
	case attrs.FATTR4_SPACE_TOTAL, attrs.FATTR4_SPACE_FREE, attrs.FATTR4_SPACE_AVAIL,
		attrs.FATTR4_FILES_TOTAL, attrs.FATTR4_FILES_FREE, attrs.FATTR4_FILES_AVAIL:
		return true
	}
	return false
}

func (s FsStats) attribute(id attrs.AttrID) attrs.Value {
	switch id {
	case attrs.FATTR4_SPACE_TOTAL:
		return s.TotalBytes
	case attrs.FATTR4_SPACE_FREE:
		return s.FreeBytes
	case attrs.FATTR4_SPACE_AVAIL:
		return s.AvailBytes
	case attrs.FATTR4_FILES_TOTAL:
		return s.TotalFiles
	case attrs.FATTR4_FILES_FREE:
		return s.FreeFiles
	case attrs.FATTR4_FILES_AVAIL:
		return s.AvailFiles
	}
	return nil
}

// ObjectSource presents one object of a Backend as an attrs.Source.
// Handle-derived and file-system-wide attributes are answered locally;
// space and file counts come from one Statfs per source, and everything
// else from GetAttribute.
//
// An ObjectSource is meant to live for one request and is not safe for
// concurrent use.
type ObjectSource struct {
	Backend Backend
	Handle  Handle
	FS      FSInfo

	stats    *FsStats
	statsErr error
}

// NewObjectSource returns a source over handle with DefaultFSInfo.
func NewObjectSource(b Backend, handle Handle) *ObjectSource {
	return &ObjectSource{Backend: b, Handle: handle, FS: DefaultFSInfo()}
}

// Attribute implements attrs.Source.
func (o *ObjectSource) Attribute(ctx context.Context, id attrs.AttrID) (attrs.Value, error) {
	switch id {
	case attrs.FATTR4_FILEHANDLE:
		return []byte(o.Handle), nil
	case attrs.FATTR4_FILEID, attrs.FATTR4_MOUNTED_ON_FILEID:
		v, err := o.Backend.GetAttribute(ctx, o.Handle, attrs.FATTR4_FILEID)
		if errors.Is(err, types.ErrAttrNotSupp) {
			return o.Handle.FileID(), nil
		}
		return v, err
	}
	if v, ok := o.FS.attribute(id); ok {
		return v, nil
	}
	if statfsAttr(id) {
		if o.stats == nil && o.statsErr == nil {
			st, err := Statfs(ctx, o.Backend, o.Handle)
			o.stats, o.statsErr = &st, err
		}
		if o.statsErr != nil {
			return nil, o.statsErr
		}
		return o.stats.attribute(id), nil
	}
	return GetAttribute(ctx, o.Backend, o.Handle, id)
}

// GetAttribute reads one value from b inside a tracing span.
func GetAttribute(ctx context.Context, b Backend, h Handle, id attrs.AttrID) (attrs.Value, error) {
	ctx, span := telemetry.StartMetadataSpan(ctx, "getattr", telemetry.Handle(h), telemetry.AttrName(id.String()))
	defer span.End()
	v, err := b.GetAttribute(ctx, h, id)
	if err != nil && !errors.Is(err, types.ErrAttrNotSupp) {
		telemetry.RecordError(ctx, err)
	}
	return v, err
}

// SetAttribute writes one value to b inside a tracing span.
func SetAttribute(ctx context.Context, b Backend, h Handle, id attrs.AttrID, v attrs.Value) error {
	ctx, span := telemetry.StartMetadataSpan(ctx, "setattr", telemetry.Handle(h), telemetry.AttrName(id.String()))
	defer span.End()
	err := b.SetAttribute(ctx, h, id, v)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

// Statfs reads file system usage from b inside a tracing span.
func Statfs(ctx context.Context, b Backend, h Handle) (FsStats, error) {
	ctx, span := telemetry.StartMetadataSpan(ctx, "statfs", telemetry.Handle(h))
	defer span.End()
	st, err := b.Statfs(ctx, h)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return st, err
}
