// refscan locates catalog reference values (order numbers, contract ids,
// titles) in free text and reports exact character spans.
package main

import (
	"os"

	"github.com/corey/refscan/cmd/refscan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
