package main

import (
	"os"

	"github.com/majorcontext/xboxauth/cmd/xboxauth/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
