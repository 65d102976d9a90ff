package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/parser"
	"github.com/fieldops/hnsync/internal/portal"
	"github.com/fieldops/hnsync/internal/render"
	"github.com/fieldops/hnsync/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	inspectMarkdown bool
	inspectOutput   string
	inspectHeaders  []string
)

// inspectCmd fetches one order page and shows how it parses
var inspectCmd = &cobra.Command{
	Use:   "inspect <order-id>",
	Short: "Fetch one order page and show how each field was read",
	Long: `Fetches the detail page of a single order with the stored session and runs
the parser on it, printing every field together with the rule that matched it.

Use --markdown to also print the page itself, rendered as Markdown, when a
field comes out empty and you need to see what the portal actually served.`,
	Example: `  # Show parsed fields
  hnsync inspect 10471234

  # Save the rendered page
  hnsync inspect 10471234 --markdown --output order.md`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectMarkdown, "markdown", false, "Render the page as Markdown")
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "Write the rendered page to a file instead of stdout")
	inspectCmd.Flags().StringArrayVarP(&inspectHeaders, "header", "H", []string{}, "Extra request headers (e.g., -H \"Referer: ...\")")
}

func runInspect(cmd *cobra.Command, args []string) error {
	a := GetApp()
	ctx := cmd.Context()
	orderID := strings.TrimSpace(args[0])
	f := a.Fetcher()
	pageURL := a.Auth.Portal().DetailURL(orderID)

	var page string
	for attempt := 0; attempt < 2; attempt++ {
		cookie, err := a.Auth.EnsureSession(ctx, f, userID)
		if err != nil {
			return err
		}
		res, err := f.Do(ctx, fetch.Request{
			Method:  http.MethodGet,
			URL:     pageURL,
			Cookie:  cookie,
			Headers: parseHeaders(inspectHeaders),
		})
		if err != nil {
			return fmt.Errorf("failed to fetch order %s: %w", orderID, err)
		}
		page = res.String()
		if !portal.IsLoginPage(page) {
			break
		}
		log.Warn().Msg("Session rejected, logging in again")
		if err := a.Auth.Invalidate(ctx, userID); err != nil {
			return err
		}
		page = ""
	}
	if page == "" {
		return fmt.Errorf("the portal keeps serving its login page, run connect again")
	}

	parsed := parser.Parse(page)
	if jsonOutput && !inspectMarkdown {
		return render.JSON(os.Stdout, parsed)
	}

	o := parsed.Order
	fmt.Printf("\n%s\n", ui.Bold("Order "+orderID))
	fmt.Println(ui.ColorDim + "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━" + ui.ColorReset)
	rows := []struct{ label, key, value string }{
		{"Address", "address", o.Address},
		{"City", "city", o.City},
		{"State", "state", o.State},
		{"Zip", "zip", o.Zip},
		{"Date", "date", o.ConfirmScheduleDate},
		{"Time", "time", o.BeginTime},
		{"Type", "type", string(o.Type)},
	}
	for _, r := range rows {
		value := r.value
		if value == "" {
			value = ui.Error("(not found)")
		}
		source := string(parsed.Sources[r.key])
		if source == "" {
			source = "-"
		}
		fmt.Printf("  %-9s %-45s %s\n", r.label+":", value, ui.ColorDim+source+ui.ColorReset)
	}
	fmt.Printf("  %-9s %v\n", "Pole:", o.HasPoleMount)
	fmt.Printf("  %-9s %v\n\n", "Dep. inc:", o.DepartureIncomplete)

	if !inspectMarkdown {
		return nil
	}

	md, err := render.Markdown(page, pageURL)
	if err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	if inspectOutput != "" {
		if err := os.WriteFile(inspectOutput, []byte(md), 0o600); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Println(ui.Success("✓ Saved to " + inspectOutput))
		return nil
	}
	fmt.Println(md)
	return nil
}

// parseHeaders converts "Key: Value" strings into a map
func parseHeaders(h []string) map[string]string {
	m := make(map[string]string)
	for _, hdr := range h {
		parts := strings.SplitN(hdr, ":", 2)
		if len(parts) == 2 {
			m[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return m
}
