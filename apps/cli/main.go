package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zenGate-Global/bizdesk/apps/cli/root"
)

func main() {
	_ = godotenv.Load()

	// Ctrl-C cancels in-flight queries instead of leaving a half-run job behind.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bizdesk:", err)
		os.Exit(1)
	}
}
