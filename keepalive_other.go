//go:build !linux

package goproxy

import "net"

// Probe count and interval are only tunable on linux.
func setKeepaliveParameters(conn *net.TCPConn, ka KeepAlive) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	if ka.Period > 0 {
		return conn.SetKeepAlivePeriod(ka.Period)
	}
	return nil
}
