package lifecycle

import (
	"strings"
)

const (
	wdaBasePort  = 8100
	wdaPortRange = 1000
)

// portFromUDID derives a deterministic WDA port from a device UDID so
// concurrently-running drivers for different devices usually get different
// ports without a central port allocator. The hex value of the UDID's last
// segment is reduced modulo wdaPortRange, so distinct UDIDs can map to the
// same port.
func portFromUDID(udid string) int {
	seg := udid
	if idx := strings.LastIndex(udid, "-"); idx >= 0 {
		seg = udid[idx+1:]
	}

	n := 0
	for _, c := range seg {
		d := hexDigit(c)
		if d < 0 {
			continue
		}
		n = n*16 + d
	}
	return wdaBasePort + n%wdaPortRange
}

func hexDigit(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}
