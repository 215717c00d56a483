package main

import (
	"os"

	"github.com/aptpay/defi-engine/cmd/defi-engine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
