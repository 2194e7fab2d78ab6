// Command sessiond runs a demo server or client of the session layer over
// TCP, driven by a fixed-rate tick loop.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
