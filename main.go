package main

import (
	"os"

	"github.com/heremaps/xyz-hub-sub023/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
