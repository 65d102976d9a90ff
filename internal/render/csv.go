package render

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/fieldops/hnsync/pkg/models"
)

// OrdersCSV writes one row per order
func OrdersCSV(w io.Writer, orders []*models.Order) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"id", "status", "date", "time", "type", "address", "pole_mount", "departure_incomplete", "attempts"}); err != nil {
		return err
	}
	for _, o := range orders {
		row := []string{
			o.ID,
			string(o.Status),
			o.ConfirmScheduleDate,
			o.BeginTime,
			string(o.Type),
			o.FullAddress(),
			strconv.FormatBool(o.HasPoleMount),
			strconv.FormatBool(o.DepartureIncomplete),
			strconv.Itoa(o.Attempts),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// TripsCSV writes one row per trip
func TripsCSV(w io.Writer, trips []*models.Trip) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"date", "start", "end", "stops", "miles", "fuel_cost", "supplies_cost", "hours", "id"}); err != nil {
		return err
	}
	for _, t := range trips {
		row := []string{
			t.Date,
			t.StartTime,
			t.EndTime,
			strconv.Itoa(len(t.Stops)),
			strconv.FormatFloat(t.TotalMiles, 'f', 2, 64),
			strconv.FormatFloat(t.FuelCost, 'f', 2, 64),
			strconv.FormatFloat(t.SuppliesCost, 'f', 2, 64),
			strconv.FormatFloat(t.HoursWorked, 'f', 2, 64),
			t.ID,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
