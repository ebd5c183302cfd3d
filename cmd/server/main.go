// Command server runs the company chat server and a terminal client for it.
package main

import (
	"fmt"
	"os"
)

// version is overwritten at build time using -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
