// Command bfsaccel runs breadth-first traversals on simulated graph
// accelerators and prepares graph memory images.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/bfsaccel/bfsaccel/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
