// The main package for the crawlbridge executable.
package main

import (
	"github.com/JakeFAU/crawlbridge/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
