package main

import (
	"os"

	"github.com/CipherScout/Ralph/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
