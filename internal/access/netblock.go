package access

import (
	"strconv"
	"strings"
)

// Netblock derives the network prefix of a dotted-octet address by
// ANDing it octet-wise with the mask. Octets beyond the mask's length
// are zero.
func Netblock(addr, mask string) string {
	addrOctets := strings.Split(addr, ".")
	maskOctets := strings.Split(mask, ".")
	out := make([]string, len(addrOctets))
	for i, a := range addrOctets {
		if i >= len(maskOctets) {
			out[i] = "0"
			continue
		}
		out[i] = strconv.Itoa(parseOctet(a) & parseOctet(maskOctets[i]))
	}
	return strings.Join(out, ".")
}

func parseOctet(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n & 0xff
}
