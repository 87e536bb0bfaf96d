package main

import (
	"os"

	"github.com/katiya-cw/openesb-standalone/cmd/openesb/commands"
)

func main() {
	os.Exit(commands.Execute(os.Args[1:]))
}
