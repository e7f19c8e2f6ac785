package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/bookledger/bookledger/cmd"
)

func main() {
	// A missing .env is fine; settings may come from the config file or environment.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
