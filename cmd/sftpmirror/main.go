package main

import (
	"os"

	"sftpmirror/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
