package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fieldops/hnsync/internal/app"
	"github.com/fieldops/hnsync/internal/config"
	"github.com/fieldops/hnsync/internal/ui"
)

var (
	userID     string
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hnsync",
	Short: "Sync HughesNet field portal work orders into daily trips",
	Long: `hnsync logs into the legacy field portal, harvests your service orders,
reads each order's detail page and builds one mileage and earnings trip per day.

Each sync run is bounded by a request budget. A run that stops early reports
itself as incomplete and the next run picks up where it left off.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	// PersistentPostRun is skipped when a command fails
	if a := GetApp(); a != nil {
		_ = a.Close(context.Background())
		SetApp(nil)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.Error("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	// Lazily initialize the application before running commands (avoid starting app for -h/help)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if GetApp() != nil {
			return nil
		}

		cfg, err := config.Load(cmd)
		if err != nil {
			return err
		}
		jsonOutput = cfg.JSONLog

		appCtx, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		SetApp(appCtx)
		return nil
	}

	// Ensure app is closed after command runs
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		appCtx := GetApp()
		if appCtx == nil {
			return
		}
		if err := appCtx.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Error during shutdown")
		}
		SetApp(nil)
	}
}

func init() {
	// Register centralized flags
	config.RegisterFlags(rootCmd)
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default", "User id the portal account is stored under")

	// Customize help and version flag descriptions
	rootCmd.Flags().BoolP("help", "h", false, "Help for hnsync")
	rootCmd.Flags().Bool("version", false, "Version for hnsync")
}
