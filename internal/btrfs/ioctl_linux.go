package btrfs

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
	"golang.org/x/sys/unix"
)

// btrfs ioctl magic number from <linux/btrfs.h>.
const btrfsIoctlMagic = 0x94

const (
	subvolNameMax    = 4039
	pathNameMax      = 4087
	inoLookupPathMax = 4080
)

// Flag word returned by SUBVOL_GETFLAGS and accepted by SNAP_CREATE_V2.
const subvolRdonly = 1 << 1

// SendFlagNoFileData asks the kernel to emit update_extent records instead of
// file payloads. The differ only needs to know that content changed.
const SendFlagNoFileData = 1 << 0

type volArgs struct {
	FD   int64
	Name [pathNameMax + 1]byte
}

type volArgsV2 struct {
	FD      int64
	Transid uint64
	Flags   uint64
	Unused  [4]uint64
	Name    [subvolNameMax + 1]byte
}

type inoLookupArgs struct {
	TreeID   uint64
	ObjectID uint64
	Name     [inoLookupPathMax]byte
}

type sendArgs struct {
	SendFD            int64
	CloneSourcesCount uint64
	CloneSources      *uint64
	ParentRoot        uint64
	Flags             uint64
	Reserved          [4]uint64
}

var (
	iocSnapDestroy    = ioctl.IOW(btrfsIoctlMagic, 15, unsafe.Sizeof(volArgs{}))
	iocTreeSearch     = ioctl.IOWR(btrfsIoctlMagic, 17, unsafe.Sizeof(searchArgs{}))
	iocInoLookup      = ioctl.IOWR(btrfsIoctlMagic, 18, unsafe.Sizeof(inoLookupArgs{}))
	iocSnapCreateV2   = ioctl.IOW(btrfsIoctlMagic, 23, unsafe.Sizeof(volArgsV2{}))
	iocSubvolCreateV2 = ioctl.IOW(btrfsIoctlMagic, 24, unsafe.Sizeof(volArgsV2{}))
	iocSubvolGetflags = ioctl.IOR(btrfsIoctlMagic, 25, unsafe.Sizeof(uint64(0)))
	iocSend           = ioctl.IOW(btrfsIoctlMagic, 38, unsafe.Sizeof(sendArgs{}))
)

func doIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// IsSubvolume reports whether a stat result describes a subvolume root: on
// btrfs every subvolume root is a directory with inode number 256.
func IsSubvolume(st *unix.Stat_t) bool {
	return st.Ino == firstFreeObjectID && st.Mode&unix.S_IFMT == unix.S_IFDIR
}

// IsSubvolumeReadOnly queries the read-only flag of the subvolume open at fd.
func IsSubvolumeReadOnly(fd int) (bool, error) {
	var flags uint64
	if err := doIoctl(fd, iocSubvolGetflags, unsafe.Pointer(&flags)); err != nil {
		return false, fmt.Errorf("SUBVOL_GETFLAGS: %w", err)
	}
	return flags&subvolRdonly != 0, nil
}

// SubvolumeID returns the root id of the subvolume containing the inode open
// at fd.
func SubvolumeID(fd int) (uint64, error) {
	args := inoLookupArgs{ObjectID: firstFreeObjectID}
	if err := doIoctl(fd, iocInoLookup, unsafe.Pointer(&args)); err != nil {
		return 0, fmt.Errorf("INO_LOOKUP: %w", err)
	}
	return args.TreeID, nil
}

func putName(dst []byte, name string) error {
	if len(name) >= len(dst) {
		return fmt.Errorf("name %q too long", name)
	}
	copy(dst, name)
	return nil
}

// CreateSubvolume creates an empty subvolume called name inside the directory
// open at fd.
func CreateSubvolume(fd int, name string) error {
	var args volArgsV2
	if err := putName(args.Name[:], name); err != nil {
		return err
	}
	if err := doIoctl(fd, iocSubvolCreateV2, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("SUBVOL_CREATE_V2 %q: %w", name, err)
	}
	return nil
}

// CreateSnapshot snapshots the subvolume open at srcFD into dstFD/name.
func CreateSnapshot(srcFD, dstFD int, name string, readOnly bool) error {
	args := volArgsV2{FD: int64(srcFD)}
	if readOnly {
		args.Flags = subvolRdonly
	}
	if err := putName(args.Name[:], name); err != nil {
		return err
	}
	if err := doIoctl(dstFD, iocSnapCreateV2, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("SNAP_CREATE_V2 %q: %w", name, err)
	}
	return nil
}

// DeleteSubvolume removes the subvolume called name inside the directory open
// at fd.
func DeleteSubvolume(fd int, name string) error {
	var args volArgs
	if err := putName(args.Name[:], name); err != nil {
		return err
	}
	if err := doIoctl(fd, iocSnapDestroy, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("SNAP_DESTROY %q: %w", name, err)
	}
	return nil
}

// SendRequest describes one incremental send.
type SendRequest struct {
	// WriteFD receives the stream.
	WriteFD int
	// ParentRoot is the root id the stream is made relative to.
	ParentRoot uint64
	// CloneSources are root ids the kernel may reference for shared extents.
	CloneSources []uint64
	// Flags, usually SendFlagNoFileData.
	Flags uint64
}

// Send issues the blocking send ioctl against the subvolume open at fd. It
// returns when the kernel has written the whole stream into req.WriteFD or
// failed; the caller owns closing that descriptor afterwards.
func Send(fd int, req SendRequest) error {
	args := sendArgs{
		SendFD:     int64(req.WriteFD),
		ParentRoot: req.ParentRoot,
		Flags:      req.Flags,
	}
	if len(req.CloneSources) > 0 {
		args.CloneSources = &req.CloneSources[0]
		args.CloneSourcesCount = uint64(len(req.CloneSources))
	}
	if err := doIoctl(fd, iocSend, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("SEND: %w", err)
	}
	return nil
}

// dupFile duplicates fd into an *os.File so the tree-search helpers can use
// the ioctl package. The duplicate is independent of the original descriptor.
func dupFile(fd int, name string) (*os.File, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dup %s: %w", name, err)
	}
	return os.NewFile(uintptr(nfd), name), nil
}
