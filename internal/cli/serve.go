package cli

import (
	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

// serveCmd starts the HTTP surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve connect, sync and read endpoints over HTTP",
	Example: `  hnsync serve --addr :8080

  # then
  curl -X POST localhost:8080/users/tech-7/sync -d '{"skipScan":true}'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to the configured server address)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a := GetApp()
	addr := serveAddr
	if addr == "" {
		addr = a.Config.ServerAddr
	}

	srv := server.New(server.Deps{
		Engine:     a.Engine,
		Auth:       a.Auth,
		Store:      a.Store,
		Trips:      a.Trips,
		NewFetcher: func() *fetch.Fetcher { return a.Fetcher() },
		Settings:   a.Config.Trips,
	})
	return srv.ListenAndServe(cmd.Context(), addr)
}
