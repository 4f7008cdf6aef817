//go:build !dgramdebug

package packet

const debugTruncation = false
