// The main package for the funddocs executable.
package main

import (
	"github.com/JakeFAU/fund-document-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
