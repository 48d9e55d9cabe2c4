package sendstream

// Command opcodes of the btrfs send stream, from the kernel's send.h.
const (
	opUnspec uint16 = iota
	opSubvol
	opSnapshot
	opMkfile
	opMkdir
	opMknod
	opMkfifo
	opMksock
	opSymlink
	opRename
	opLink
	opUnlink
	opRmdir
	opSetXattr
	opRemoveXattr
	opWrite
	opClone
	opTruncate
	opChmod
	opChown
	opUtimes
	opEnd
	opUpdateExtent
)

// Attribute type codes carried in the TLV command bodies.
const (
	attrUnspec uint16 = iota
	attrUUID
	attrCtransid
	attrIno
	attrSize
	attrMode
	attrUID
	attrGID
	attrRdev
	attrCtime
	attrMtime
	attrAtime
	attrOtime
	attrXattrName
	attrXattrData
	attrPath
	attrPathTo
	attrPathLink
	attrFileOffset
	attrData
	attrCloneUUID
	attrCloneCtransid
	attrClonePath
	attrCloneOffset
	attrCloneLen
)

// UUID is a raw subvolume UUID as carried on the wire.
type UUID = [16]byte

// Ops is the callback table invoked by the parser, one entry per stream
// operation. A nil entry means the operation is skipped. Any returned error
// aborts the parse.
type Ops struct {
	Subvol       func(path string, uuid UUID, ctransid uint64) error
	Snapshot     func(path string, uuid UUID, ctransid uint64, parentUUID UUID, parentCtransid uint64) error
	Mkfile       func(path string) error
	Mkdir        func(path string) error
	Mknod        func(path string, mode, rdev uint64) error
	Mkfifo       func(path string) error
	Mksock       func(path string) error
	Symlink      func(path, target string) error
	Rename       func(from, to string) error
	Link         func(path, target string) error
	Unlink       func(path string) error
	Rmdir        func(path string) error
	Write        func(path string, offset uint64, data []byte) error
	Clone        func(path string, offset, length uint64, srcPath string, srcOffset uint64) error
	SetXattr     func(path, name string, data []byte) error
	RemoveXattr  func(path, name string) error
	Truncate     func(path string, size uint64) error
	Chmod        func(path string, mode uint64) error
	Chown        func(path string, uid, gid uint64) error
	Utimes       func(path string) error
	UpdateExtent func(path string, offset, length uint64) error
}
