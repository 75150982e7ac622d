// Package types defines the NFSv4 constants, status codes and the small set
// of fixed wire structures (session id, SEQUENCE header) shared by the
// attribute codec and the session layer, per RFC 7530 and RFC 8881.
//
// This is a foundational package with no runtime behavior.
package types

// ============================================================================
// Protocol Limits
// ============================================================================

const (
	// NFS4_FHSIZE is the maximum file handle size in bytes (RFC 7530).
	NFS4_FHSIZE = 128

	// NFS4_SESSIONID_SIZE is the size of a session identifier (RFC 8881 2.10.3).
	NFS4_SESSIONID_SIZE = 16

	// NFS4_OPAQUE_LIMIT bounds owner strings and other small opaques.
	NFS4_OPAQUE_LIMIT = 1024

	NFS4_MINOR_VERSION_0 = 0
	NFS4_MINOR_VERSION_1 = 1
	NFS4_MINOR_VERSION_2 = 2
)

// ============================================================================
// NFSv4 File Type Constants (nfs_ftype4)
// ============================================================================

const (
	NF4REG       = 1 // Regular file
	NF4DIR       = 2 // Directory
	NF4BLK       = 3 // Block device
	NF4CHR       = 4 // Character device
	NF4LNK       = 5 // Symbolic link
	NF4SOCK      = 6 // Socket
	NF4FIFO      = 7 // Named pipe (FIFO)
	NF4ATTRDIR   = 8 // Attribute directory
	NF4NAMEDATTR = 9 // Named attribute
)

// ============================================================================
// File Handle Expire Type (fh_expire_type4)
// ============================================================================

const (
	FH4_PERSISTENT         = 0x00
	FH4_NOEXPIRE_WITH_OPEN = 0x01
	FH4_VOLATILE_ANY       = 0x02
	FH4_VOL_MIGRATION      = 0x04
	FH4_VOL_RENAME         = 0x08
)

// ============================================================================
// time_how4 (settime4 discriminant, RFC 7530 Section 3.3.1)
// ============================================================================

const (
	SET_TO_SERVER_TIME4 = 0
	SET_TO_CLIENT_TIME4 = 1
)

// ============================================================================
// ACL support bits (aclsupport4)
// ============================================================================

const (
	ACL4_SUPPORT_ALLOW_ACL = 0x00000001
	ACL4_SUPPORT_DENY_ACL  = 0x00000002
	ACL4_SUPPORT_AUDIT_ACL = 0x00000004
	ACL4_SUPPORT_ALARM_ACL = 0x00000008
)

// ============================================================================
// NFSv4.1 SEQUENCE Status Flags (RFC 8881 Section 18.46)
// ============================================================================

const (
	SEQ4_STATUS_CB_PATH_DOWN              = 0x00000001
	SEQ4_STATUS_EXPIRED_ALL_STATE_REVOKED = 0x00000008
	SEQ4_STATUS_ADMIN_STATE_REVOKED       = 0x00000020
	SEQ4_STATUS_LEASE_MOVED               = 0x00000080
	SEQ4_STATUS_RESTART_RECLAIM_NEEDED    = 0x00000100
	SEQ4_STATUS_BACKCHANNEL_FAULT         = 0x00000400
)

// ============================================================================
// Operation Numbers (nfs_opnum4) used in operation bitmaps
// ============================================================================
//
// state_protect4 and EXCHANGE_ID carry bitmaps of operation numbers. The
// highest number defined by RFC 8881 is OP_RECLAIM_COMPLETE; NFSv4.2 adds
// operations up to OP_REMOVEXATTR.

const (
	OP_ACCESS           = 3
	OP_CLOSE            = 4
	OP_COMMIT           = 5
	OP_GETATTR          = 9
	OP_LOOKUP           = 15
	OP_NVERIFY          = 17
	OP_OPEN             = 18
	OP_PUTFH            = 22
	OP_READ             = 25
	OP_SETATTR          = 34
	OP_VERIFY           = 37
	OP_WRITE            = 38
	OP_EXCHANGE_ID      = 42
	OP_CREATE_SESSION   = 43
	OP_DESTROY_SESSION  = 44
	OP_SEQUENCE         = 53
	OP_DESTROY_CLIENTID = 57
	OP_RECLAIM_COMPLETE = 58
	OP_REMOVEXATTR      = 75

	// OP_MAX is the highest operation number understood locally.
	OP_MAX = OP_REMOVEXATTR
)

// ============================================================================
// NFSv4 Status Codes (nfsstat4)
// ============================================================================
//
// Only the codes produced by this module are listed.

const (
	NFS4_OK = 0

	NFS4ERR_PERM        = 1
	NFS4ERR_NOENT       = 2
	NFS4ERR_IO          = 5
	NFS4ERR_ACCESS      = 13
	NFS4ERR_INVAL       = 22
	NFS4ERR_NAMETOOLONG = 63
	NFS4ERR_STALE       = 70

	NFS4ERR_BADHANDLE    = 10001
	NFS4ERR_NOTSUPP      = 10004
	NFS4ERR_SERVERFAULT  = 10006
	NFS4ERR_DELAY        = 10008
	NFS4ERR_SAME         = 10009
	NFS4ERR_RESOURCE     = 10018
	NFS4ERR_NOFILEHANDLE = 10020
	NFS4ERR_NOT_SAME     = 10027
	NFS4ERR_ATTRNOTSUPP  = 10032
	NFS4ERR_BADXDR       = 10036
	NFS4ERR_BADOWNER     = 10039
	NFS4ERR_BADCHAR      = 10040

	NFS4ERR_BADSESSION           = 10052
	NFS4ERR_BADSLOT              = 10053
	NFS4ERR_SEQ_MISORDERED       = 10063
	NFS4ERR_REP_TOO_BIG          = 10066
	NFS4ERR_REP_TOO_BIG_TO_CACHE = 10067
	NFS4ERR_RETRY_UNCACHED_REP   = 10068
	NFS4ERR_SEQ_FALSE_RETRY      = 10076
	NFS4ERR_BAD_HIGH_SLOT        = 10077
	NFS4ERR_DEADSESSION          = 10078
)

var statusNames = map[uint32]string{
	NFS4_OK:                      "NFS4_OK",
	NFS4ERR_PERM:                 "NFS4ERR_PERM",
	NFS4ERR_NOENT:                "NFS4ERR_NOENT",
	NFS4ERR_IO:                   "NFS4ERR_IO",
	NFS4ERR_ACCESS:               "NFS4ERR_ACCESS",
	NFS4ERR_INVAL:                "NFS4ERR_INVAL",
	NFS4ERR_NAMETOOLONG:          "NFS4ERR_NAMETOOLONG",
	NFS4ERR_STALE:                "NFS4ERR_STALE",
	NFS4ERR_BADHANDLE:            "NFS4ERR_BADHANDLE",
	NFS4ERR_NOTSUPP:              "NFS4ERR_NOTSUPP",
	NFS4ERR_SERVERFAULT:          "NFS4ERR_SERVERFAULT",
	NFS4ERR_DELAY:                "NFS4ERR_DELAY",
	NFS4ERR_SAME:                 "NFS4ERR_SAME",
	NFS4ERR_RESOURCE:             "NFS4ERR_RESOURCE",
	NFS4ERR_NOFILEHANDLE:         "NFS4ERR_NOFILEHANDLE",
	NFS4ERR_NOT_SAME:             "NFS4ERR_NOT_SAME",
	NFS4ERR_ATTRNOTSUPP:          "NFS4ERR_ATTRNOTSUPP",
	NFS4ERR_BADXDR:               "NFS4ERR_BADXDR",
	NFS4ERR_BADOWNER:             "NFS4ERR_BADOWNER",
	NFS4ERR_BADCHAR:              "NFS4ERR_BADCHAR",
	NFS4ERR_BADSESSION:           "NFS4ERR_BADSESSION",
	NFS4ERR_BADSLOT:              "NFS4ERR_BADSLOT",
	NFS4ERR_SEQ_MISORDERED:       "NFS4ERR_SEQ_MISORDERED",
	NFS4ERR_REP_TOO_BIG:          "NFS4ERR_REP_TOO_BIG",
	NFS4ERR_REP_TOO_BIG_TO_CACHE: "NFS4ERR_REP_TOO_BIG_TO_CACHE",
	NFS4ERR_RETRY_UNCACHED_REP:   "NFS4ERR_RETRY_UNCACHED_REP",
	NFS4ERR_SEQ_FALSE_RETRY:      "NFS4ERR_SEQ_FALSE_RETRY",
	NFS4ERR_BAD_HIGH_SLOT:        "NFS4ERR_BAD_HIGH_SLOT",
	NFS4ERR_DEADSESSION:          "NFS4ERR_DEADSESSION",
}

// StatusName returns the symbolic name of an nfsstat4 value.
func StatusName(status uint32) string {
	if n, ok := statusNames[status]; ok {
		return n
	}
	return "NFS4ERR_UNKNOWN"
}
