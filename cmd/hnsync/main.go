// cmd/hnsync/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldops/hnsync/internal/cli"
)

func main() {
	// Cancelling the context lets a running sync save its progress before exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Execute(ctx)
}
