package main

import (
	"github.com/sidkik/serialsync/cmd"
	"github.com/sidkik/serialsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
