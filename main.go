// The main package for the cne-crawler executable.
package main

import (
	"github.com/JakeFAU/cne-results-crawler/cmd"
)

func main() {
	cmd.Execute()
}
