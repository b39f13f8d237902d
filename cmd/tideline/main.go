package main

import (
	"os"

	"github.com/wesleyorama2/tideline/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
