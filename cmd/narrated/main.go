// Command narrated runs the narrate daemon in the foreground. It is the
// unit systemd or a container supervisor should launch; the narrate CLI's
// `daemon run` subcommand is equivalent.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"

	"narrate/internal/config"
	"narrate/internal/daemonrun"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, _, _, err := config.Load(os.Getenv("NARRATE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	opts := daemonrun.Options{
		LogLevel:   os.Getenv("NARRATE_DAEMON_LOG_LEVEL"),
		StopWorker: os.Getenv("NARRATE_STOP_WORKER") == "1",
	}
	if err := daemonrun.Run(context.Background(), cfg, opts); err != nil {
		log.Fatalf("daemon: %v", err)
	}
}
