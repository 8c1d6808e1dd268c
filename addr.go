package profile

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr identifies a remote device.
// It's the MAC address of the peer, normalized to lower case.
type Addr string

// NewAddr creates an Addr from string
func NewAddr(s string) Addr {
	return Addr(strings.ToLower(strings.TrimSpace(s)))
}

// ParseAddr creates an Addr and checks it is a 6 byte colon separated MAC.
func ParseAddr(s string) (Addr, error) {
	a := NewAddr(s)
	if !a.Valid() {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return a, nil
}

func (a Addr) String() string {
	return string(a)
}

// Bytes returns the address bytes, nil if the address can't be decoded.
func (a Addr) Bytes() []byte {
	hexStr := strings.Replace(a.String(), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}

	return out
}

// Valid reports whether the address is a 6 byte colon separated MAC.
func (a Addr) Valid() bool {
	if len(a) != 17 || strings.Count(string(a), ":") != 5 {
		return false
	}
	return len(a.Bytes()) == 6
}
