//go:build linux

package hidraw

import (
	"errors"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

const iocReadWrite = 0xC0000000

// HIDIOCSFEATURE(len) from linux/hidraw.h.
func hidiocsfeature(n int) uintptr {
	return iocReadWrite | uintptr(n)<<16 | 'H'<<8 | 0x06
}

// Device is an opened hidraw node.
type Device struct {
	f    *os.File
	path string
}

func Open(path string) (*Device, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &Device{f: f, path: path}, nil
}

func (d *Device) Path() string { return d.path }

// SendFeatureReport sends report as feature report 0.
func (d *Device) SendFeatureReport(report []byte) error {
	if d == nil || d.f == nil {
		return errors.New("hidraw device is nil")
	}
	buf := make([]byte, len(report)+1)
	copy(buf[1:], report)

	rc, err := d.f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	if cerr := rc.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, hidiocsfeature(len(buf)), uintptr(unsafe.Pointer(&buf[0])))
	}); cerr != nil {
		return cerr
	}
	if errno != 0 {
		return errno
	}
	return nil
}

// Read reads one input report. It blocks until a report arrives or the
// device is closed.
func (d *Device) Read(p []byte) (int, error) {
	if d == nil || d.f == nil {
		return 0, errors.New("hidraw device is nil")
	}
	return d.f.Read(p)
}

func (d *Device) Close() error {
	if d == nil || d.f == nil {
		return nil
	}
	return d.f.Close()
}
