package main

import (
	"context"
	"os"

	"github.com/m3rciful/keyshop/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
