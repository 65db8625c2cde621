//go:build !linux

package ipc

import "net"

// Listen always fails: abstract unix sockets are a Linux feature.
func Listen(string) (net.Listener, error) {
	return nil, ErrUnsupportedTransport
}

// Dial always fails on this platform.
func Dial(string) (net.Conn, error) {
	return nil, ErrUnsupportedTransport
}

func peerUID(net.Conn) (int, error) {
	return -1, ErrUnsupportedTransport
}
