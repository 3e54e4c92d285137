// The main package for the restockd executable.
package main

import (
	"github.com/restockd/restockd/cmd"
)

func main() {
	cmd.Execute()
}
