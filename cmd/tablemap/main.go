package main

import (
	"os"

	"github.com/vogtb/go-tablemap/cmd/tablemap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
