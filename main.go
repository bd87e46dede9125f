// The main package for the researcher executable.
package main

import (
	"github.com/JakeFAU/web-researcher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
