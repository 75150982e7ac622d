package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

// InitialAttributes returns the values a new object starts with.
func InitialAttributes(ftype, mode, uid, gid uint32, now time.Time) map[attrs.AttrID]attrs.Value {
	t := attrs.TimeFrom(now)
	numlinks := uint32(1)
	if ftype == types.NF4DIR {
		numlinks = 2
	}
	return map[attrs.AttrID]attrs.Value{
		attrs.FATTR4_TYPE:          ftype,
		attrs.FATTR4_MODE:          mode & 0o7777,
		attrs.FATTR4_NUMLINKS:      numlinks,
		attrs.FATTR4_OWNER:         uid,
		attrs.FATTR4_OWNER_GROUP:   gid,
		attrs.FATTR4_SIZE:          uint64(0),
		attrs.FATTR4_SPACE_USED:    uint64(0),
		attrs.FATTR4_CHANGE:        uint64(1),
		attrs.FATTR4_TIME_ACCESS:   t,
		attrs.FATTR4_TIME_MODIFY:   t,
		attrs.FATTR4_TIME_METADATA: t,
		attrs.FATTR4_TIME_CREATE:   t,
	}
}

// ApplyRecord writes the values of a decoded SETATTR record to one object
// and returns the bitmap of attributes set, as reported in attrsset.
//
// The record's markers are checked first: an unsupported, unmapped or
// invalid attribute fails the whole operation before anything is written.
// settime4 values are resolved against now, mode_umask is folded into mode,
// and every successful call advances change and time_metadata.
func ApplyRecord(ctx context.Context, b Backend, h Handle, reg *attrs.Registry, rec *attrs.Record, now time.Time) (attrs.Bitmap, error) {
	if err := rec.Err(); err != nil {
		return nil, err
	}

	present := rec.Present()
	var applied attrs.Bitmap
	var err error
	present.Each(func(id attrs.AttrID) bool {
		d, ok := reg.Lookup(id)
		if !ok {
			err = NotProvided(id)
			return false
		}
		if !d.Settable() {
			err = types.NewStatusError(types.NFS4ERR_INVAL, "%s is read-only", d.Name)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	t := attrs.TimeFrom(now)
	_, sizeSet := rec.Get(attrs.FATTR4_SIZE)
	_, mtimeSet := rec.Get(attrs.FATTR4_TIME_MODIFY_SET)

	present.Each(func(id attrs.AttrID) bool {
		v, _ := rec.Get(id)
		target := id
		switch id {
		case attrs.FATTR4_TIME_ACCESS_SET, attrs.FATTR4_TIME_MODIFY_SET:
			st, ok := v.(attrs.SetTime)
			if !ok {
				err = types.NewStatusError(types.NFS4ERR_SERVERFAULT, "%v holds %T", id, v)
				return false
			}
			target = attrs.FATTR4_TIME_ACCESS
			if id == attrs.FATTR4_TIME_MODIFY_SET {
				target = attrs.FATTR4_TIME_MODIFY
			}
			if st.ServerTime() {
				v = t
			} else {
				v = st.Time
			}
		case attrs.FATTR4_MODE_UMASK:
			mu, ok := v.(attrs.ModeUmask)
			if !ok {
				err = types.NewStatusError(types.NFS4ERR_SERVERFAULT, "%v holds %T", id, v)
				return false
			}
			target = attrs.FATTR4_MODE
			v = mu.Mode &^ mu.Umask
		}
		if err = SetAttribute(ctx, b, h, target, v); err != nil {
			return false
		}
		if target == attrs.FATTR4_SIZE {
			if err = SetAttribute(ctx, b, h, attrs.FATTR4_SPACE_USED, v); err != nil {
				return false
			}
		}
		applied.Set(id)
		return true
	})
	if err != nil {
		return nil, err
	}
	if applied.Empty() {
		return applied, nil
	}

	if sizeSet && !mtimeSet {
		if err := SetAttribute(ctx, b, h, attrs.FATTR4_TIME_MODIFY, t); err != nil {
			return nil, err
		}
	}
	if err := touch(ctx, b, h, t); err != nil {
		return nil, err
	}

	logger.DebugCtx(ctx, "attributes applied",
		logger.KeyHandle, h.String(), logger.KeyAttrCount, applied.Count())
	return applied, nil
}

// touch advances change and time_metadata after a modification.
func touch(ctx context.Context, b Backend, h Handle, t attrs.Time) error {
	change := uint64(0)
	v, err := GetAttribute(ctx, b, h, attrs.FATTR4_CHANGE)
	switch {
	case err == nil:
		change, _ = v.(uint64)
	case !errors.Is(err, types.ErrAttrNotSupp):
		return err
	}
	if err := SetAttribute(ctx, b, h, attrs.FATTR4_CHANGE, change+1); err != nil {
		return err
	}
	return SetAttribute(ctx, b, h, attrs.FATTR4_TIME_METADATA, t)
}
