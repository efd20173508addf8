package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/quotio/quotiod/internal/cli"
)

func main() {
	// a .env next to the working directory may carry dir overrides
	_ = godotenv.Load()

	cli.InitRoot()
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "quotiod: %v\n", err)
		os.Exit(1)
	}
}
