package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fieldops/hnsync/internal/engine"
	"github.com/fieldops/hnsync/internal/render"
	"github.com/fieldops/hnsync/internal/trips"
	"github.com/fieldops/hnsync/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	skipScan      bool
	untilComplete int
	noProgress    bool
)

// syncCmd runs the sync pipeline
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Harvest orders, fetch their details and build trips",
	Long: `Runs one budgeted pass: log in, harvest order ids from the portal, fetch
the detail page of every order not yet read, then build a trip for every day
whose orders changed.

A pass that runs out of budget is reported as incomplete. --until-complete
keeps running passes, skipping the harvest after the first, until nothing is
left or the pass limit is reached.`,
	Example: `  # One pass
  hnsync sync

  # Keep going for up to 5 passes
  hnsync sync --until-complete 5

  # Only fetch pending details and build trips
  hnsync sync --skip-scan --json`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&skipScan, "skip-scan", false, "Skip harvesting and only work on known orders")
	syncCmd.Flags().IntVar(&untilComplete, "until-complete", 1, "Run up to N passes until the sync is complete")
	syncCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
}

func runSync(cmd *cobra.Command, args []string) error {
	a := GetApp()
	if untilComplete < 1 {
		untilComplete = 1
	}

	var (
		result *engine.Result
		err    error
	)
	for pass := 0; pass < untilComplete; pass++ {
		var bar *stageBar
		if !jsonOutput && !noProgress {
			bar = newStageBar()
		}

		req := engine.Request{
			UserID:   userID,
			Settings: a.Config.Trips,
			SkipScan: skipScan || pass > 0,
		}
		if bar != nil {
			req.Progress = bar.update
		}

		result, err = a.Engine.Sync(cmd.Context(), req)
		if bar != nil {
			bar.finish()
		}

		if err != nil {
			// A fresh budget may get further
			if engine.Code(err) == engine.ErrCodeNoProgress && pass < untilComplete-1 {
				log.Warn().Err(err).Int("pass", pass+1).Msg("No progress, trying again")
				continue
			}
			break
		}
		if !result.Incomplete {
			break
		}
		if pass < untilComplete-1 {
			log.Info().Int("pass", pass+1).Int("pending", result.Stats.Pending).Msg("Sync incomplete, running another pass")
		}
	}

	if jsonOutput {
		if result != nil {
			if werr := render.JSON(os.Stdout, result); werr != nil {
				return werr
			}
		}
		return err
	}

	if result != nil {
		printSyncResult(result)
	}
	var se *engine.SyncError
	if errors.As(err, &se) && se.Code == engine.ErrCodeAuthFailed {
		fmt.Println(ui.Info("Run `hnsync connect` again to refresh your portal login."))
	}
	return err
}

func printSyncResult(result *engine.Result) {
	status := ui.Success("complete")
	if result.Incomplete {
		status = ui.Info("incomplete, run sync again")
	}

	s := result.Stats
	fmt.Printf("\n%s\n", ui.Bold("Sync "+result.RunID))
	fmt.Println(ui.ColorDim + "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━" + ui.ColorReset)
	fmt.Printf("  %-12s %s\n", "Status:", status)
	fmt.Printf("  %-12s %d found, %d new, %d pruned\n", "Harvest:", s.Harvested, s.NewOrders, s.Pruned)
	fmt.Printf("  %-12s %d fetched, %d failed, %d pending\n", "Details:", s.Fetched, s.Failed, s.Pending)
	fmt.Printf("  %-12s %d written, %d unchanged\n", "Trips:", s.TripsWritten, s.TripsSkipped)
	fmt.Printf("  %-12s %d of %d\n", "Requests:", s.RequestsUsed, s.RequestLimit)
	fmt.Printf("  %-12s %s\n", "Duration:", result.Duration.Round(time.Millisecond))

	if len(result.Dates) > 0 {
		dates := make([]string, 0, len(result.Dates))
		for d := range result.Dates {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		fmt.Printf("\n%s\n", ui.Bold("Days"))
		for _, d := range dates {
			fmt.Printf("  %s  %s\n", d, result.Dates[d])
		}
	}

	if len(result.Trips) > 0 {
		fmt.Printf("\n%s\n", ui.Bold("Trips"))
		for _, t := range result.Trips {
			fmt.Printf("  %s\n", trips.Summary(t))
		}
	}
	fmt.Println()
}

// stageBar shows one progress bar per pipeline stage. Detail workers report
// concurrently, so updates are serialized.
type stageBar struct {
	mu    sync.Mutex
	stage string
	bar   *progressbar.ProgressBar
}

func newStageBar() *stageBar {
	return &stageBar{}
}

func (b *stageBar) update(stage string, done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if stage != b.stage || b.bar == nil {
		if b.bar != nil {
			_ = b.bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
		b.stage = stage
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(fmt.Sprintf("%-8s", stage)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
		)
	}
	if total > 0 {
		b.bar.ChangeMax(total)
	}
	_ = b.bar.Set(done)
}

func (b *stageBar) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}
