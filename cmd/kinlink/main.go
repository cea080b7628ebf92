package main

import (
	"fmt"
	"os"

	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initLogger(debug bool) {
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug || util.GetEnvBool("DEBUG", false),
		Format: util.GetEnv("LOG_FORMAT"),
		Output: os.Stderr,
	})
	logger.Init(consoleLogger)
}
