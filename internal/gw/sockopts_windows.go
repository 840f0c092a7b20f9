//go:build windows

package gw

import "net"

// tuneSocket is a no-op on Windows: TCP_USER_TIMEOUT has no portable
// equivalent there, and the parse-error/buffer-overflow eviction paths
// still bound a silently-dead peer's lifetime.
func tuneSocket(net.Listener) {}
