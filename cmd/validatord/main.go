package main

import (
	"os"

	"github.com/foresightnet/voldy/cmd/validatord/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
