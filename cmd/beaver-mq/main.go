package main

import (
	"os"

	"github.com/ChuLiYu/beaver-mq/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
