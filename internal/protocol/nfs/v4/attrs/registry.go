package attrs

import (
	"fmt"
	"sort"
	"sync"
)

// Access says in which direction an attribute may travel.
type Access int

const (
	// ReadOnly attributes are reported by GETATTR and may appear in
	// VERIFY, but are rejected by SETATTR.
	ReadOnly Access = iota
	// ReadWrite attributes may be set and reported.
	ReadWrite
	// WriteOnly attributes may only be set. Asking for one in GETATTR or
	// comparing one is NFS4ERR_INVAL.
	WriteOnly
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "ro"
	case ReadWrite:
		return "rw"
	case WriteOnly:
		return "wo"
	}
	return "unknown"
}

// Descriptor is the complete wire description of one attribute. Decode,
// Encode and Compare default to the functions of Kind when left nil, so most
// descriptors are a single line of data.
type Descriptor struct {
	ID     AttrID
	Name   string
	Kind   Kind
	Size   SizeClass
	Access Access

	// Validate rejects values that decode cleanly but are out of range.
	// A false result marks the attribute StatusInvalid.
	Validate func(Value) bool

	Decode  DecodeFunc
	Encode  EncodeFunc
	Compare CompareFunc
}

// Settable reports whether SETATTR may carry the attribute.
func (d *Descriptor) Settable() bool {
	return d.Access != ReadOnly
}

// Registry maps attribute ids to descriptors. A Registry is immutable after
// construction and safe for concurrent use.
type Registry struct {
	byID      [MaxAttrID + 1]*Descriptor
	byName    map[string]*Descriptor
	supported Bitmap
	writable  Bitmap
}

// NewRegistry builds a registry from descs, filling unset codec functions
// from each descriptor's Kind. Duplicate ids or names, and ids above
// MaxAttrID, are rejected.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		if d.ID > MaxAttrID {
			return nil, fmt.Errorf("attribute %d (%s) above max id %d", uint32(d.ID), d.Name, uint32(MaxAttrID))
		}
		if r.byID[d.ID] != nil {
			return nil, fmt.Errorf("attribute %d registered twice", uint32(d.ID))
		}
		if d.Name == "" {
			return nil, fmt.Errorf("attribute %d has no name", uint32(d.ID))
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("attribute name %q registered twice", d.Name)
		}

		kc, ok := kindCodecs[d.Kind]
		if !ok && (d.Decode == nil || d.Encode == nil) {
			return nil, fmt.Errorf("attribute %d (%s): unknown kind %d and no codec", uint32(d.ID), d.Name, int(d.Kind))
		}
		if d.Decode == nil {
			d.Decode = kc.decode
		}
		if d.Encode == nil {
			d.Encode = kc.encode
		}
		if d.Compare == nil {
			d.Compare = kc.compare
			if d.Compare == nil {
				d.Compare = equalValues
			}
		}
		if d.Size == Variable {
			d.Size = kc.size
		}

		r.byID[d.ID] = &d
		r.byName[d.Name] = &d
		r.supported.Set(d.ID)
		if d.Settable() {
			r.writable.Set(d.ID)
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error, for package-level tables.
func MustRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id AttrID) (*Descriptor, bool) {
	if id > MaxAttrID {
		return nil, false
	}
	d := r.byID[id]
	return d, d != nil
}

// ByName returns the descriptor registered under name.
func (r *Registry) ByName(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Supported returns the ids with a descriptor.
func (r *Registry) Supported() Bitmap {
	return r.supported.Clone()
}

// Writable returns the ids SETATTR may carry.
func (r *Registry) Writable() Bitmap {
	return r.writable.Clone()
}

// All returns every descriptor in ascending id order.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.byName))
	for _, d := range r.byID {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// DefaultRegistry returns the registry of every attribute this module
// implements.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultReg = MustRegistry(builtinDescriptors()...)
	})
	return defaultReg
}

func validFileType(v Value) bool {
	t, ok := v.(uint32)
	return ok && t >= 1 && t <= 9
}

func validMode(v Value) bool {
	m, ok := v.(uint32)
	return ok && m <= 07777
}

func validFHExpire(v Value) bool {
	f, ok := v.(uint32)
	return ok && f&^0x0f == 0
}

func validChangeAttrType(v Value) bool {
	t, ok := v.(uint32)
	return ok && t <= 4
}

func builtinDescriptors() []Descriptor {
	return []Descriptor{
		{ID: FATTR4_SUPPORTED_ATTRS, Name: "supported_attrs", Kind: KindBitmap},
		{ID: FATTR4_TYPE, Name: "type", Kind: KindUint32, Validate: validFileType},
		{ID: FATTR4_FH_EXPIRE_TYPE, Name: "fh_expire_type", Kind: KindUint32, Validate: validFHExpire},
		{ID: FATTR4_CHANGE, Name: "change", Kind: KindUint64},
		{ID: FATTR4_SIZE, Name: "size", Kind: KindUint64, Access: ReadWrite},
		{ID: FATTR4_LINK_SUPPORT, Name: "link_support", Kind: KindBool},
		{ID: FATTR4_SYMLINK_SUPPORT, Name: "symlink_support", Kind: KindBool},
		{ID: FATTR4_NAMED_ATTR, Name: "named_attr", Kind: KindBool},
		{ID: FATTR4_FSID, Name: "fsid", Kind: KindFsid},
		{ID: FATTR4_UNIQUE_HANDLES, Name: "unique_handles", Kind: KindBool},
		{ID: FATTR4_LEASE_TIME, Name: "lease_time", Kind: KindUint32},
		{ID: FATTR4_RDATTR_ERROR, Name: "rdattr_error", Kind: KindUint32},
		{ID: FATTR4_ACL, Name: "acl", Kind: KindACL, Access: ReadWrite},
		{ID: FATTR4_ACLSUPPORT, Name: "aclsupport", Kind: KindUint32},
		{ID: FATTR4_ARCHIVE, Name: "archive", Kind: KindBool, Access: ReadWrite},
		{ID: FATTR4_CANSETTIME, Name: "cansettime", Kind: KindBool},
		{ID: FATTR4_CASE_INSENSITIVE, Name: "case_insensitive", Kind: KindBool},
		{ID: FATTR4_CASE_PRESERVING, Name: "case_preserving", Kind: KindBool},
		{ID: FATTR4_CHOWN_RESTRICTED, Name: "chown_restricted", Kind: KindBool},
		{ID: FATTR4_FILEHANDLE, Name: "filehandle", Kind: KindHandle},
		{ID: FATTR4_FILEID, Name: "fileid", Kind: KindUint64},
		{ID: FATTR4_FILES_AVAIL, Name: "files_avail", Kind: KindUint64},
		{ID: FATTR4_FILES_FREE, Name: "files_free", Kind: KindUint64},
		{ID: FATTR4_FILES_TOTAL, Name: "files_total", Kind: KindUint64},
		{ID: FATTR4_HIDDEN, Name: "hidden", Kind: KindBool, Access: ReadWrite},
		{ID: FATTR4_HOMOGENEOUS, Name: "homogeneous", Kind: KindBool},
		{ID: FATTR4_MAXFILESIZE, Name: "maxfilesize", Kind: KindUint64},
		{ID: FATTR4_MAXLINK, Name: "maxlink", Kind: KindUint32},
		{ID: FATTR4_MAXNAME, Name: "maxname", Kind: KindUint32},
		{ID: FATTR4_MAXREAD, Name: "maxread", Kind: KindUint64},
		{ID: FATTR4_MAXWRITE, Name: "maxwrite", Kind: KindUint64},
		{ID: FATTR4_MIMETYPE, Name: "mimetype", Kind: KindString, Access: ReadWrite},
		{ID: FATTR4_MODE, Name: "mode", Kind: KindUint32, Access: ReadWrite, Validate: validMode},
		{ID: FATTR4_NO_TRUNC, Name: "no_trunc", Kind: KindBool},
		{ID: FATTR4_NUMLINKS, Name: "numlinks", Kind: KindUint32},
		{ID: FATTR4_OWNER, Name: "owner", Kind: KindOwner, Access: ReadWrite},
		{ID: FATTR4_OWNER_GROUP, Name: "owner_group", Kind: KindGroup, Access: ReadWrite},
		{ID: FATTR4_QUOTA_AVAIL_HARD, Name: "quota_avail_hard", Kind: KindUint64},
		{ID: FATTR4_QUOTA_AVAIL_SOFT, Name: "quota_avail_soft", Kind: KindUint64},
		{ID: FATTR4_QUOTA_USED, Name: "quota_used", Kind: KindUint64},
		{ID: FATTR4_RAWDEV, Name: "rawdev", Kind: KindSpecData},
		{ID: FATTR4_SPACE_AVAIL, Name: "space_avail", Kind: KindUint64},
		{ID: FATTR4_SPACE_FREE, Name: "space_free", Kind: KindUint64},
		{ID: FATTR4_SPACE_TOTAL, Name: "space_total", Kind: KindUint64},
		{ID: FATTR4_SPACE_USED, Name: "space_used", Kind: KindUint64},
		{ID: FATTR4_SYSTEM, Name: "system", Kind: KindBool, Access: ReadWrite},
		{ID: FATTR4_TIME_ACCESS, Name: "time_access", Kind: KindTime},
		{ID: FATTR4_TIME_ACCESS_SET, Name: "time_access_set", Kind: KindSetTime, Access: WriteOnly},
		{ID: FATTR4_TIME_BACKUP, Name: "time_backup", Kind: KindTime, Access: ReadWrite},
		{ID: FATTR4_TIME_CREATE, Name: "time_create", Kind: KindTime, Access: ReadWrite},
		{ID: FATTR4_TIME_DELTA, Name: "time_delta", Kind: KindTime},
		{ID: FATTR4_TIME_METADATA, Name: "time_metadata", Kind: KindTime},
		{ID: FATTR4_TIME_MODIFY, Name: "time_modify", Kind: KindTime},
		{ID: FATTR4_TIME_MODIFY_SET, Name: "time_modify_set", Kind: KindSetTime, Access: WriteOnly},
		{ID: FATTR4_MOUNTED_ON_FILEID, Name: "mounted_on_fileid", Kind: KindUint64},
		{ID: FATTR4_DIR_NOTIF_DELAY, Name: "dir_notif_delay", Kind: KindTime},
		{ID: FATTR4_DIRENT_NOTIF_DELAY, Name: "dirent_notif_delay", Kind: KindTime},
		{ID: FATTR4_FS_LAYOUT_TYPES, Name: "fs_layout_types", Kind: KindUint32List},
		{ID: FATTR4_LAYOUT_TYPES, Name: "layout_types", Kind: KindUint32List},
		{ID: FATTR4_LAYOUT_BLKSIZE, Name: "layout_blksize", Kind: KindUint32},
		{ID: FATTR4_LAYOUT_ALIGNMENT, Name: "layout_alignment", Kind: KindUint32},
		{ID: FATTR4_SUPPATTR_EXCLCREAT, Name: "suppattr_exclcreat", Kind: KindBitmap},
		{ID: FATTR4_CLONE_BLKSIZE, Name: "clone_blksize", Kind: KindUint32},
		{ID: FATTR4_CHANGE_ATTR_TYPE, Name: "change_attr_type", Kind: KindUint32, Validate: validChangeAttrType},
		{ID: FATTR4_MODE_UMASK, Name: "mode_umask", Kind: KindModeUmask, Access: WriteOnly},
		{ID: FATTR4_XATTR_SUPPORT, Name: "xattr_support", Kind: KindBool},
	}
}
