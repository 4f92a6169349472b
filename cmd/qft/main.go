// Package main provides the qft command-line client.
//
// qft sends a file, a memory-mapped file or standard input to a receiver over
// TCP, optionally compressed. The receiver is addressed directly by IP, by an
// mDNS hostname on the local network, or through an SSH session that
// negotiates a free port on the remote host and tunnels the connection.
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	a := &app{}
	err := newRootCommand(a).ExecuteContext(ctx)
	stop()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}
