//go:build !linux

package main

import (
	"errors"
	"net"
)

func listenTransparent(addr string, useTProxy bool) (net.Listener, error) {
	if useTProxy {
		return nil, errors.New("TPROXY is only available on Linux")
	}
	return net.Listen("tcp", addr)
}
