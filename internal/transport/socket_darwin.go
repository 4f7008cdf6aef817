package transport

import "golang.org/x/sys/unix"

// available returns the payload size of the next queued datagram. FIONREAD
// would report every queued byte, SO_NREAD only the first datagram.
func available(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NREAD)
}

func setReuse(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func bindToInterface(fd int, f *Family, index int) error {
	return unix.SetsockoptInt(fd, f.Level, f.boundIfOption, index)
}
