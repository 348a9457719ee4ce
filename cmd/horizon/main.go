package main

import (
	"horizon/cmd/cmd"
	"horizon/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	cmd.Execute()
}
