package main

import (
	"os"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
