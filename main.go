// The main package for the blockindexer executable.
package main

import (
	"github.com/chainsync-io/blockindexer/cmd"
)

func main() {
	cmd.Execute()
}
