package link

import (
	"net"
	"strings"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
)

// OpenSerial opens a link over a UART.
func OpenSerial(port string, baud uint) (*Link, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", port)
	}
	return New(sp), nil
}

// Dial opens a link over a network socket.
func Dial(network, address string, timeout time.Duration) (*Link, error) {
	c, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}
	return New(c), nil
}

// Open returns the native transport described by c. An address starting with
// a slash names a unix socket. The loopback transport is not a link and is
// handled by the caller.
func Open(c profile.NativeConfig) (*Link, error) {
	switch c.Transport {
	case "serial":
		return OpenSerial(c.Path, uint(c.BaudRate))
	case "socket":
		network := "tcp"
		if strings.HasPrefix(c.Address, "/") {
			network = "unix"
		}
		return Dial(network, c.Address, c.Timeout)
	}
	return nil, errors.Errorf("transport %q is not a link", c.Transport)
}
