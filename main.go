// The main package for the site-cloner executable.
package main

import (
	"github.com/JakeFAU/site-cloner/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
