package main

import (
	"os"

	"github.com/sandeepkv93/identity-core/internal/tools/smoke"
)

func main() {
	if err := smoke.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
