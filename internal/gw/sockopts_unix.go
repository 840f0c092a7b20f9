//go:build !windows

package gw

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneSocket sets TCP_USER_TIMEOUT on ln's listening socket, bounding how
// long a registered Game Server's TCP connection can sit with unacked data
// before the kernel reports it dead — a tighter bound than relying solely
// on the parse-error/buffer-overflow eviction paths for a peer that has
// gone silent at the TCP layer itself.
func tuneSocket(ln net.Listener) {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return
	}
	sc, err := tl.SyscallConn()
	if err != nil {
		return
	}
	_ = sc.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, 30000)
	})
}
