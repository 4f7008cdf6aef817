//go:build darwin || linux

// Package ancillary walks the control-message buffer filled in by recvmsg.
//
// The buffer is untrusted: every header and every payload is checked against
// the declared buffer length before it is read, and a record whose declared
// length runs past the end is never yielded.
package ancillary

import (
	"iter"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Record is one control message. Data aliases the buffer it was parsed from
// and is valid only as long as that buffer is.
type Record struct {
	Level int
	Type  int
	Data  []byte
}

// headerLen is the aligned size of a control-message header.
var headerLen = unix.CmsgLen(0)

// align rounds n up to the platform control-message alignment.
func align(n int) int {
	return unix.CmsgSpace(n) - unix.CmsgSpace(0)
}

// Records returns the records of buf in encoded order. The sequence is lazy
// and may be ranged over any number of times.
func Records(buf []byte) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		off := 0
		for off+headerLen <= len(buf) {
			h := header(buf[off:])
			n := int(h.Len)
			if uint64(h.Len) > uint64(len(buf)) || n < headerLen || off+n > len(buf) {
				return
			}
			rec := Record{
				Level: int(h.Level),
				Type:  int(h.Type),
				Data:  buf[off+headerLen : off+n : off+n],
			}
			if !yield(rec) {
				return
			}
			off += align(n)
		}
	}
}

// Count returns the number of records Records would yield.
func Count(buf []byte) int {
	n := 0
	for range Records(buf) {
		n++
	}
	return n
}

// header copies the header out of b so the read does not depend on the
// alignment of b. The caller guarantees len(b) >= headerLen.
func header(b []byte) unix.Cmsghdr {
	var h unix.Cmsghdr
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&h)), unix.SizeofCmsghdr), b)
	return h
}
