// cartctl drives a running cartsyncd from the command line.
// Each command acts on one tab, making it composable for scripts.
//
// Examples:
//
//	cartctl add v1 2 --price 1299 --title Mug
//	cartctl set v1 5
//	cartctl flush
//	cartctl --tab agent get --json
//	cartctl login u-42
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
}
