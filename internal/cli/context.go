// Package cli provides the command-line interface for hnsync.
package cli

import (
	"sync"

	"github.com/fieldops/hnsync/internal/app"
)

var (
	appMu     sync.Mutex
	globalApp *app.Application
)

// SetApp stores the Application shared by the running command
func SetApp(a *app.Application) {
	appMu.Lock()
	globalApp = a
	appMu.Unlock()
}

// GetApp returns the Application initialized for the running command
func GetApp() *app.Application {
	appMu.Lock()
	defer appMu.Unlock()
	return globalApp
}
