//go:build linux

// Package socket opens the HCI user channel of a Linux Bluetooth controller.
package socket

import (
	"io"
	"strings"
	"sync"
	"unsafe"

	"github.com/mgutz/logxi/v1"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var logger = log.New("socket")

func ioR(t, nr, size uintptr) uintptr {
	return (2 << 30) | (t << 8) | nr | (size << 16)
}

func ioW(t, nr, size uintptr) uintptr {
	return (1 << 30) | (t << 8) | nr | (size << 16)
}

func ioctl(fd, op, arg uintptr) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, fd, op, arg); ep != 0 {
		return ep
	}
	return nil
}

const (
	ioctlSize     = 4
	hciMaxDevices = 16
	typHCI        = 72 // 'H'
)

var (
	hciUpDevice      = ioW(typHCI, 201, ioctlSize) // HCIDEVUP
	hciDownDevice    = ioW(typHCI, 202, ioctlSize) // HCIDEVDOWN
	hciResetDevice   = ioW(typHCI, 203, ioctlSize) // HCIDEVRESET
	hciGetDeviceList = ioR(typHCI, 210, ioctlSize) // HCIGETDEVLIST
	hciGetDeviceInfo = ioR(typHCI, 211, ioctlSize) // HCIGETDEVINFO
)

type devRequest struct {
	id  uint16
	opt uint32
}

type devListRequest struct {
	devNum     uint16
	devRequest [hciMaxDevices]devRequest
}

type hciDevInfo struct {
	id         uint16
	name       [8]byte
	bdaddr     [6]byte
	flags      uint32
	devType    uint8
	features   [8]uint8
	pktType    uint32
	linkPolicy uint32
	linkMode   uint32
	aclMtu     uint16
	aclPkts    uint16
	scoMtu     uint16
	scoPkts    uint16

	stats [10]uint32
}

type skt struct {
	fd   int
	dev  int
	name string
	rmu  sync.Mutex
	wmu  sync.Mutex
}

// NewSocket takes the controller hciN down and binds its user channel. With
// n == -1 the first device that can be opened is used.
func NewSocket(n int) (io.ReadWriteCloser, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create hci socket")
	}
	if n != -1 {
		s, err := open(fd, n)
		if err != nil {
			unix.Close(fd)
		}
		return s, err
	}

	req := devListRequest{devNum: hciMaxDevices}
	if err := ioctl(uintptr(fd), hciGetDeviceList, uintptr(unsafe.Pointer(&req))); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't list hci devices")
	}
	for i := 0; i < int(req.devNum); i++ {
		s, err := open(fd, int(req.devRequest[i].id))
		if err == nil {
			return s, nil
		}
		logger.Warn("can't open device", "dev", req.devRequest[i].id, "err", err)
	}
	unix.Close(fd)
	return nil, errors.New("no supported devices available")
}

func open(fd, n int) (*skt, error) {
	i := hciDevInfo{id: uint16(n)}
	if err := ioctl(uintptr(fd), hciGetDeviceInfo, uintptr(unsafe.Pointer(&i))); err != nil {
		return nil, errors.Wrapf(err, "can't get info of hci%d", n)
	}
	name := strings.TrimRight(string(i.name[:]), "\x00")

	// Cycle the device so that it starts from a clean state.
	logger.Debug("up", "dev", name)
	if err := ioctl(uintptr(fd), hciUpDevice, uintptr(n)); err != nil {
		if err != unix.EALREADY {
			return nil, errors.Wrapf(err, "can't bring %s up", name)
		}
		logger.Debug("reset", "dev", name)
		if err := ioctl(uintptr(fd), hciResetDevice, uintptr(n)); err != nil {
			return nil, errors.Wrapf(err, "can't reset %s", name)
		}
	}
	logger.Debug("down", "dev", name)
	if err := unix.IoctlSetInt(fd, uint(hciDownDevice), n); err != nil {
		return nil, errors.Wrapf(err, "can't bring %s down", name)
	}

	sa := unix.SockaddrHCI{Dev: uint16(n), Channel: unix.HCI_CHANNEL_USER}
	if err := unix.Bind(fd, &sa); err != nil {
		return nil, errors.Wrapf(err, "can't bind %s to the hci user channel", name)
	}
	logger.Info("opened", "dev", name)
	return &skt{fd: fd, dev: n, name: name}, nil
}

func (s *skt) Read(b []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return unix.Read(s.fd, b)
}

func (s *skt) Write(b []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return unix.Write(s.fd, b)
}

func (s *skt) Close() error {
	return unix.Close(s.fd)
}
