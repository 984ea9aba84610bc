package main

import (
	"fmt"
	"os"

	"salesforce-router/internal/command"
)

func main() {
	if err := command.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
