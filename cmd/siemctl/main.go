// siemctl: operator commands against the SIEM store, plus offline parse and analyze of alert logs.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
