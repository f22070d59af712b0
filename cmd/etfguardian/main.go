package main

import (
	"github.com/joho/godotenv"

	"drawdown-alerts/internal/cli"
)

func main() {
	// Optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cli.Execute()
}
