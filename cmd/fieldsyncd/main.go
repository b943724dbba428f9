// Command fieldsyncd runs the fieldsync daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"fieldsync/internal/config"
	"fieldsync/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fieldsyncd: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "fieldsyncd: %v\n", err)
		os.Exit(1)
	}
}
