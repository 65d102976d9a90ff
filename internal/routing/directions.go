package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/retry"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultDirectionsURL is the Google Directions JSON endpoint
const DefaultDirectionsURL = "https://maps.googleapis.com/maps/api/directions/json"

var errRejected = errors.New("directions request rejected")

// Directions asks the Google Directions API for driving legs. Each attempt
// goes through the run's fetcher and is charged to its budget.
type Directions struct {
	doer     fetch.Doer
	endpoint string
	apiKey   string
	retry    retry.Config
}

// NewDirections creates a provider. An empty endpoint uses DefaultDirectionsURL.
func NewDirections(doer fetch.Doer, endpoint, apiKey string) *Directions {
	if endpoint == "" {
		endpoint = DefaultDirectionsURL
	}
	cfg := retry.DefaultConfig()
	cfg.Permanent = []error{fetch.ErrRequestLimitExceeded, errRejected}
	return &Directions{doer: doer, endpoint: endpoint, apiKey: apiKey, retry: cfg}
}

// WithRetry replaces the retry policy
func (d *Directions) WithRetry(cfg retry.Config) *Directions {
	cfg.Permanent = append(cfg.Permanent, fetch.ErrRequestLimitExceeded, errRejected)
	d.retry = cfg
	return d
}

type directionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		Legs []struct {
			Distance struct {
				Value float64 `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value float64 `json:"value"`
			} `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route implements Router
func (d *Directions) Route(ctx context.Context, origin, destination string) (*models.Leg, error) {
	var leg *models.Leg
	err := retry.WithRetry(ctx, d.retry, func() error {
		query := map[string]string{
			"origin":      Normalize(origin),
			"destination": Normalize(destination),
			"mode":        "driving",
		}
		if d.apiKey != "" {
			query["key"] = d.apiKey
		}

		res, err := d.doer.Do(ctx, fetch.Request{
			Method:  http.MethodGet,
			URL:     d.endpoint,
			Query:   query,
			Headers: map[string]string{"Accept": "application/json"},
		})
		if err != nil {
			return err
		}

		leg, err = decodeDirections(res.Body)
		return err
	})
	if err != nil {
		if errors.Is(err, fetch.ErrRequestLimitExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s: %v", ErrLegFailed, origin, destination, err)
	}
	return leg, nil
}

func decodeDirections(body []byte) (*models.Leg, error) {
	var payload directionsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode directions: %w", err)
	}

	switch payload.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return nil, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, retry.NewHTTPError(http.StatusServiceUnavailable, payload.Status, "")
	default:
		return nil, fmt.Errorf("%w: %s %s", errRejected, payload.Status, payload.ErrorMessage)
	}

	if len(payload.Routes) == 0 {
		return nil, nil
	}

	leg := &models.Leg{}
	for _, l := range payload.Routes[0].Legs {
		leg.DistanceMeters += l.Distance.Value
		leg.DurationSeconds += l.Duration.Value
	}
	log.Debug().
		Float64("meters", leg.DistanceMeters).
		Float64("seconds", leg.DurationSeconds).
		Msg("Route resolved")
	return leg, nil
}
