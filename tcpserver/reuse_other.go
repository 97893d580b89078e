//go:build !unix

/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpserver

import "syscall"

// reuseAddrControl leaves the platform default on systems without SO_REUSEADDR semantics.
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
