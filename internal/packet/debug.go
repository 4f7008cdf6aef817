//go:build dgramdebug

package packet

const debugTruncation = true
