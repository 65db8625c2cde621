//go:build linux

package ipc

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// Listen binds an abstract unix socket. name may carry a leading '@'.
func Listen(name string) (net.Listener, error) {
	return net.Listen("unix", abstractAddr(name))
}

// Dial connects to an abstract unix socket.
func Dial(name string) (net.Conn, error) {
	return net.Dial("unix", abstractAddr(name))
}

func abstractAddr(name string) string {
	return "@" + strings.TrimPrefix(name, "@")
}

// PeerCredentials holds the credentials of the process on the other end
// of a unix socket.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// GetPeerCredentials reads SO_PEERCRED from a unix connection.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("not a unix connection")
	}

	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = rawConn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt: %w", credErr)
	}

	return &PeerCredentials{
		PID: int(cred.Pid),
		UID: int(cred.Uid),
		GID: int(cred.Gid),
	}, nil
}

func peerUID(conn net.Conn) (int, error) {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return -1, err
	}
	return cred.UID, nil
}
