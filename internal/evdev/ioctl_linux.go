//go:build linux

package evdev

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctlInt runs an int-argument ioctl on f. It goes through SyscallConn
// because File.Fd switches the file to blocking mode, after which Close
// no longer interrupts a pending Read.
func ioctlInt(f *os.File, req uint, v int) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) {
		opErr = unix.IoctlSetInt(int(fd), req, v)
	}); err != nil {
		return err
	}
	return opErr
}

// ioctlPtr runs a pointer-argument ioctl on f.
func ioctlPtr(f *os.File, req uint, arg unsafe.Pointer) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	if err := rc.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	}); err != nil {
		return err
	}
	if errno != 0 {
		return errno
	}
	return nil
}
