package transport

import "golang.org/x/sys/unix"

// available returns the payload size of the next queued datagram.
func available(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.SIOCINQ)
}

func setReuse(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// bindToInterface restricts egress to the interface. SO_BINDTOIFINDEX covers
// both families.
func bindToInterface(fd int, _ *Family, index int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BINDTOIFINDEX, index)
}
