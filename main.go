package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/overmindtech/tokengen/cmd"
)

func main() {
	cmd.Execute()
}
