// The searchcrawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/searchcrawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
