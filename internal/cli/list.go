package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fieldops/hnsync/internal/orders"
	"github.com/fieldops/hnsync/internal/render"
	"github.com/fieldops/hnsync/internal/trips"
	"github.com/fieldops/hnsync/internal/ui"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/spf13/cobra"
)

var (
	listFormat string
	listStatus string
)

// ordersCmd lists the stored order database
var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List stored orders",
	Example: `  # Orders still waiting for their detail page
  hnsync orders --status pending

  # Export everything
  hnsync orders --format csv > orders.csv`,
	Args: cobra.NoArgs,
	RunE: runOrders,
}

// tripsCmd lists the synthesized trips
var tripsCmd = &cobra.Command{
	Use:   "trips",
	Short: "List synthesized trips",
	Args:  cobra.NoArgs,
	RunE:  runTrips,
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(tripsCmd)

	for _, c := range []*cobra.Command{ordersCmd, tripsCmd} {
		c.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format: table, csv or json")
	}
	ordersCmd.Flags().StringVar(&listStatus, "status", "", "Only orders with this status: pending, fetched or failed")
}

func outputFormat() (string, error) {
	if jsonOutput {
		return "json", nil
	}
	switch f := strings.ToLower(listFormat); f {
	case "table", "csv", "json":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be table, csv, or json)", listFormat)
	}
}

func runOrders(cmd *cobra.Command, args []string) error {
	a := GetApp()
	format, err := outputFormat()
	if err != nil {
		return err
	}

	db, err := orders.Load(cmd.Context(), a.Store, userID)
	if err != nil {
		return err
	}
	list := db.List()
	if listStatus != "" {
		filtered := list[:0]
		for _, o := range list {
			if string(o.Status) == strings.ToLower(listStatus) {
				filtered = append(filtered, o)
			}
		}
		list = filtered
	}

	switch format {
	case "json":
		return render.JSON(os.Stdout, list)
	case "csv":
		return render.OrdersCSV(os.Stdout, list)
	}

	if len(list) == 0 {
		fmt.Println("\nNo orders stored.")
		fmt.Println("\nHarvest them with:")
		fmt.Println("  hnsync sync")
		fmt.Println()
		return nil
	}

	counts := db.Counts()
	fmt.Printf("\n📋 Orders (%d)  %s\n", len(list), ui.ColorDim+fmt.Sprintf("fetched %d · pending %d · failed %d",
		counts[models.StatusFetched], counts[models.StatusPending], counts[models.StatusFailed])+ui.ColorReset)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, o := range list {
		flags := ""
		if o.HasPoleMount {
			flags += " [pole]"
		}
		if o.DepartureIncomplete {
			flags += " [departure incomplete]"
		}
		fmt.Printf("%s  %-8s %-10s %-8s %-8s %s%s\n",
			o.ID, statusLabel(o.Status), o.ConfirmScheduleDate, o.BeginTime, o.Type, o.FullAddress(), flags)
	}
	fmt.Println()
	return nil
}

func statusLabel(s models.OrderStatus) string {
	switch s {
	case models.StatusFetched:
		return ui.Success(fmt.Sprintf("%-8s", s))
	case models.StatusFailed:
		return ui.Error(fmt.Sprintf("%-8s", s))
	default:
		return ui.Info(fmt.Sprintf("%-8s", s))
	}
}

func runTrips(cmd *cobra.Command, args []string) error {
	a := GetApp()
	format, err := outputFormat()
	if err != nil {
		return err
	}

	list, err := a.Trips.List(cmd.Context(), userID)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		return render.JSON(os.Stdout, list)
	case "csv":
		return render.TripsCSV(os.Stdout, list)
	}

	if len(list) == 0 {
		fmt.Println("\nNo trips yet.")
		return nil
	}

	fmt.Printf("\n🚚 Trips (%d)\n", len(list))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, t := range list {
		edited := ""
		if t.EditedByUser() {
			edited = ui.Info("  (edited)")
		}
		fmt.Printf("%s%s\n", trips.Summary(t), edited)
		for _, s := range t.Stops {
			fmt.Printf("    %d. %-6s %-8s %s", s.Order+1, s.AppointmentTime, s.Type, s.Address)
			if s.Notes != "" {
				fmt.Printf("  %s", ui.ColorDim+s.Notes+ui.ColorReset)
			}
			fmt.Println()
		}
	}
	fmt.Println()
	return nil
}
