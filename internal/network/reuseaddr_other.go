//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a net.ListenConfig with keepalive probes
// disabled. SO_REUSEADDR is left to the platform default.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{KeepAlive: -1}
}
