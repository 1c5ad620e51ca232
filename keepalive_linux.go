//go:build linux

package goproxy

import (
	"net"

	"golang.org/x/sys/unix"
)

func setKeepaliveParameters(conn *net.TCPConn, ka KeepAlive) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	if ka.Period > 0 {
		if err := conn.SetKeepAlivePeriod(ka.Period); err != nil {
			return err
		}
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = rawConn.Control(func(fdPtr uintptr) {
		fd := int(fdPtr)
		// number of unanswered probes before the connection is dropped
		if ka.Count > 0 {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, ka.Count); err != nil {
				sockErr = err
				return
			}
		}
		// wait time after an unsuccessful probe
		if ka.Interval > 0 {
			sockErr = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(ka.Interval.Seconds()))
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
