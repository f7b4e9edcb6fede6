package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := run(); err != nil {
		slog.Error("shadowgram failed", "error", err)
		os.Exit(1)
	}
}
