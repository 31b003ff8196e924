package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Options parameterise the NepseAPI client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	UserAgent    string
	// Endpoints maps source name to URL path. Defaults cover the full
	// NepseAPI surface when empty.
	Endpoints map[string]string
	Clock     func() time.Time
}

// DefaultEndpoints lists the NepseAPI endpoints a snapshot is built from.
func DefaultEndpoints() map[string]string {
	return map[string]string{
		"floorsheet":    "/Floorsheet",
		"price_volume":  "/PriceVolume",
		"live_market":   "/LiveMarket",
		"summary":       "/Summary",
		"top_gainers":   "/TopGainers",
		"top_losers":    "/TopLosers",
		"nepse_index":   "/NepseIndex",
		"supply_demand": "/SupplyDemand",
	}
}

// NepseAPI fetches snapshots from a locally-running NepseAPI server.
type NepseAPI struct {
	opts      Options
	logger    zerolog.Logger
	client    *http.Client
	baseURL   string
	endpoints map[string]string
	clock     func() time.Time
}

// NewNepseAPI constructs a NepseAPI snapshot source.
func NewNepseAPI(opts Options, logger zerolog.Logger) *NepseAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints()
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &NepseAPI{
		opts:      opts,
		logger:    logger.With().Str("component", "nepse_api").Logger(),
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		endpoints: endpoints,
		clock:     clock,
	}
}

// Probe checks whether the NepseAPI server answers on its root path.
func (n *NepseAPI) Probe(ctx context.Context) error {
	timeout := n.opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/", nil)
	if err != nil {
		return err
	}
	n.setHeaders(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe nepse api: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe nepse api: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Fetch pulls every configured endpoint and assembles a normalised snapshot.
// Endpoints are tried independently; a snapshot is returned as long as at
// least one of them answered.
func (n *NepseAPI) Fetch(ctx context.Context) (*Snapshot, error) {
	takenAt := n.clock()
	snapshot := &Snapshot{
		TakenAt: takenAt,
		Sources: make(map[string]int, len(n.endpoints)),
	}

	names := make([]string, 0, len(n.endpoints))
	for name := range n.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	succeeded := 0
	for _, name := range names {
		raw, err := n.fetchEndpoint(ctx, name, n.endpoints[name])
		if err != nil {
			n.logger.Warn().Err(err).Str("endpoint", name).Msg("endpoint fetch failed")
			snapshot.Failed = append(snapshot.Failed, name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded++

		records := normalizeRecords(name, raw)
		if isClosedSentinel(name, records) {
			return nil, ErrMarketClosed
		}

		snapshot.Records = append(snapshot.Records, records...)
		snapshot.Sources[name] = len(records)
		n.logger.Debug().Str("endpoint", name).Int("records", len(records)).Msg("endpoint collected")
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("no endpoint reachable: %w", firstErr)
	}

	snapshot.Index = extractIndex(snapshot.Records)
	return snapshot, nil
}

func (n *NepseAPI) fetchEndpoint(ctx context.Context, name, path string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	n.setHeaders(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode payload: %w", name, ErrMalformed)
	}
	return raw, nil
}

func (n *NepseAPI) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	ua := strings.TrimSpace(n.opts.UserAgent)
	if ua == "" {
		ua = "NEPSE-Cloud-Collector/1.0"
	}
	req.Header.Set("User-Agent", ua)
}

// normalizeRecords flattens an endpoint payload into tagged records. Object
// payloads become a single record; list payloads one record per element.
// Keys are lowercased with spaces collapsed to underscores.
func normalizeRecords(source string, raw any) []Record {
	switch payload := raw.(type) {
	case []any:
		records := make([]Record, 0, len(payload))
		for i, item := range payload {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			records = append(records, Record{
				Source: source,
				ID:     fmt.Sprintf("%s_%d", source, i+1),
				Fields: normalizeFields(obj),
			})
		}
		return records
	case map[string]any:
		if len(payload) == 0 {
			return nil
		}
		return []Record{{
			Source: source,
			ID:     source + "_summary",
			Fields: normalizeFields(payload),
		}}
	default:
		return nil
	}
}

func normalizeFields(obj map[string]any) map[string]string {
	fields := make(map[string]string, len(obj))
	for key, value := range obj {
		clean := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
		fields[clean] = stringifyValue(value)
	}
	return fields
}

func stringifyValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	}
}

var closedStatusKeys = []string{"is_open", "isopen", "market_status", "status"}

// isClosedSentinel recognises an explicit closed-market flag in status-ish
// endpoints. Only summary and live_market carry such flags upstream.
func isClosedSentinel(source string, records []Record) bool {
	if source != "summary" && source != "live_market" {
		return false
	}
	for _, rec := range records {
		for _, key := range closedStatusKeys {
			value, ok := rec.Fields[key]
			if !ok {
				continue
			}
			lowered := strings.ToLower(value)
			if strings.Contains(lowered, "close") || lowered == "false" {
				return true
			}
		}
	}
	return false
}

var indexValueKeys = []string{"current_value", "currentvalue", "index_value", "close", "index"}

// extractIndex pulls the NEPSE index level out of the nepse_index records,
// best effort. Missing or unparsable values leave the snapshot without one.
func extractIndex(records []Record) *decimal.Decimal {
	for _, rec := range records {
		if rec.Source != "nepse_index" {
			continue
		}
		if name, ok := rec.Fields["index"]; ok && !strings.EqualFold(name, "NEPSE Index") && !isNumeric(name) {
			continue
		}
		for _, key := range indexValueKeys {
			value, ok := rec.Fields[key]
			if !ok || value == "" {
				continue
			}
			parsed, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
			if err != nil {
				continue
			}
			return &parsed
		}
	}
	return nil
}

func isNumeric(s string) bool {
	_, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	return err == nil
}

var _ SnapshotSource = (*NepseAPI)(nil)
