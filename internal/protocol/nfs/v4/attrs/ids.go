package attrs

import "strconv"

// AttrID identifies an fattr4 attribute. Ids are stable across minor
// versions: NFSv4.0 defines 0-55, NFSv4.1 extends to 75, NFSv4.2 to 82.
type AttrID uint32

// ============================================================================
// Attribute ids (RFC 7530 Section 5, RFC 8881 Section 5, RFC 7862, RFC 8275,
// RFC 8276)
// ============================================================================

const (
	FATTR4_SUPPORTED_ATTRS    AttrID = 0
	FATTR4_TYPE               AttrID = 1
	FATTR4_FH_EXPIRE_TYPE     AttrID = 2
	FATTR4_CHANGE             AttrID = 3
	FATTR4_SIZE               AttrID = 4
	FATTR4_LINK_SUPPORT       AttrID = 5
	FATTR4_SYMLINK_SUPPORT    AttrID = 6
	FATTR4_NAMED_ATTR         AttrID = 7
	FATTR4_FSID               AttrID = 8
	FATTR4_UNIQUE_HANDLES     AttrID = 9
	FATTR4_LEASE_TIME         AttrID = 10
	FATTR4_RDATTR_ERROR       AttrID = 11
	FATTR4_ACL                AttrID = 12
	FATTR4_ACLSUPPORT         AttrID = 13
	FATTR4_ARCHIVE            AttrID = 14
	FATTR4_CANSETTIME         AttrID = 15
	FATTR4_CASE_INSENSITIVE   AttrID = 16
	FATTR4_CASE_PRESERVING    AttrID = 17
	FATTR4_CHOWN_RESTRICTED   AttrID = 18
	FATTR4_FILEHANDLE         AttrID = 19
	FATTR4_FILEID             AttrID = 20
	FATTR4_FILES_AVAIL        AttrID = 21
	FATTR4_FILES_FREE         AttrID = 22
	FATTR4_FILES_TOTAL        AttrID = 23
	FATTR4_FS_LOCATIONS       AttrID = 24
	FATTR4_HIDDEN             AttrID = 25
	FATTR4_HOMOGENEOUS        AttrID = 26
	FATTR4_MAXFILESIZE        AttrID = 27
	FATTR4_MAXLINK            AttrID = 28
	FATTR4_MAXNAME            AttrID = 29
	FATTR4_MAXREAD            AttrID = 30
	FATTR4_MAXWRITE           AttrID = 31
	FATTR4_MIMETYPE           AttrID = 32
	FATTR4_MODE               AttrID = 33
	FATTR4_NO_TRUNC           AttrID = 34
	FATTR4_NUMLINKS           AttrID = 35
	FATTR4_OWNER              AttrID = 36
	FATTR4_OWNER_GROUP        AttrID = 37
	FATTR4_QUOTA_AVAIL_HARD   AttrID = 38
	FATTR4_QUOTA_AVAIL_SOFT   AttrID = 39
	FATTR4_QUOTA_USED         AttrID = 40
	FATTR4_RAWDEV             AttrID = 41
	FATTR4_SPACE_AVAIL        AttrID = 42
	FATTR4_SPACE_FREE         AttrID = 43
	FATTR4_SPACE_TOTAL        AttrID = 44
	FATTR4_SPACE_USED         AttrID = 45
	FATTR4_SYSTEM             AttrID = 46
	FATTR4_TIME_ACCESS        AttrID = 47
	FATTR4_TIME_ACCESS_SET    AttrID = 48
	FATTR4_TIME_BACKUP        AttrID = 49
	FATTR4_TIME_CREATE        AttrID = 50
	FATTR4_TIME_DELTA         AttrID = 51
	FATTR4_TIME_METADATA      AttrID = 52
	FATTR4_TIME_MODIFY        AttrID = 53
	FATTR4_TIME_MODIFY_SET    AttrID = 54
	FATTR4_MOUNTED_ON_FILEID  AttrID = 55
	FATTR4_DIR_NOTIF_DELAY    AttrID = 56
	FATTR4_DIRENT_NOTIF_DELAY AttrID = 57
	FATTR4_DACL               AttrID = 58
	FATTR4_SACL               AttrID = 59
	FATTR4_CHANGE_POLICY      AttrID = 60
	FATTR4_FS_STATUS          AttrID = 61
	FATTR4_FS_LAYOUT_TYPES    AttrID = 62
	FATTR4_LAYOUT_HINT        AttrID = 63
	FATTR4_LAYOUT_TYPES       AttrID = 64
	FATTR4_LAYOUT_BLKSIZE     AttrID = 65
	FATTR4_LAYOUT_ALIGNMENT   AttrID = 66
	FATTR4_FS_LOCATIONS_INFO  AttrID = 67
	FATTR4_MDSTHRESHOLD       AttrID = 68
	FATTR4_RETENTION_GET      AttrID = 69
	FATTR4_RETENTION_SET      AttrID = 70
	FATTR4_RETENTEVT_GET      AttrID = 71
	FATTR4_RETENTEVT_SET      AttrID = 72
	FATTR4_RETENTION_HOLD     AttrID = 73
	FATTR4_MODE_SET_MASKED    AttrID = 74
	FATTR4_SUPPATTR_EXCLCREAT AttrID = 75
	FATTR4_FS_CHARSET_CAP     AttrID = 76
	FATTR4_CLONE_BLKSIZE      AttrID = 77
	FATTR4_SPACE_FREED        AttrID = 78
	FATTR4_CHANGE_ATTR_TYPE   AttrID = 79
	FATTR4_SEC_LABEL          AttrID = 80
	FATTR4_MODE_UMASK         AttrID = 81
	FATTR4_XATTR_SUPPORT      AttrID = 82

	// MaxAttrID is the highest attribute id known locally.
	MaxAttrID = FATTR4_XATTR_SUPPORT
)

// MaxWords is the number of bitmap words needed for every known id. Words
// beyond this are consumed and discarded on decode.
const MaxWords = int(MaxAttrID)/32 + 1

// String returns the registered name of the attribute, or its number for
// ids without a descriptor.
func (id AttrID) String() string {
	if d, ok := DefaultRegistry().Lookup(id); ok {
		return d.Name
	}
	return "attr" + strconv.FormatUint(uint64(id), 10)
}
