// The main package for the tiler executable.
package main

import (
	"github.com/JakeFAU/terrain-tiler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
