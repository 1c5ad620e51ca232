//go:build linux

package main

import (
	"net"

	tproxy "github.com/Windscribe/go-tproxy"
)

// listenTransparent opens the transparent listener. With useTProxy it is an
// IP_TRANSPARENT socket fed by TPROXY rules, otherwise a plain one fed by
// REDIRECT rules.
func listenTransparent(addr string, useTProxy bool) (net.Listener, error) {
	if !useTProxy {
		return net.Listen("tcp", addr)
	}
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	return tproxy.ListenTCP("tcp", laddr)
}
