package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"wardflow/pkg/cache"
	"wardflow/pkg/config"
)

var ErrSolverDisabled = errors.New("solver endpoint is not configured")

// SolverNurse is one row of the payload the external rostering pipeline
// expects. Shift types: 0 = day, 1 = night.
type SolverNurse struct {
	NurseID            string `json:"nurse_id"`
	PreferredDaysOff   []int  `json:"preferred_days_off"`
	PreferredShiftType int    `json:"preferred_shift_type"`
}

type SolverRequest struct {
	NurseProfiles []SolverNurse `json:"nurse_profiles"`
	N             int           `json:"N"` // nurses required per shift
	MaxSeconds    int           `json:"max_seconds"`
}

type solverResponse struct {
	Roster json.RawMessage `json:"roster"`
	Error  string          `json:"error,omitempty"`
}

// RosterService shapes roster payloads and forwards them to the external
// forecasting/optimization endpoint. No scheduling happens here; the
// schedule comes back opaque and is cached briefly to spare the solver.
type RosterService struct {
	endpoint string
	timeout  time.Duration
	ttl      time.Duration
	client   *http.Client
}

func NewRosterService() *RosterService {
	timeout := time.Duration(config.SolverTimeoutSeconds) * time.Second
	return &RosterService{
		endpoint: config.SolverEndpoint,
		timeout:  timeout,
		ttl:      time.Duration(config.RosterCacheTTLSecs) * time.Second,
		client:   &http.Client{Timeout: timeout},
	}
}

// GetRoster invokes the solver for the given payload. Identical payloads
// within the cache TTL are served from memory.
func (s *RosterService) GetRoster(ctx context.Context, req SolverRequest) (json.RawMessage, error) {
	if strings.TrimSpace(s.endpoint) == "" {
		return nil, ErrSolverDisabled
	}
	if req.MaxSeconds <= 0 {
		req.MaxSeconds = 20
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ck := cache.KeyFromStrings("roster", string(body))
	if v, ok := cache.Default().Get(ck); ok {
		if raw, ok2 := v.(json.RawMessage); ok2 {
			return raw, nil
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Printf("[roster] POST %s (%d nurses)", s.endpoint, len(req.NurseProfiles))
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("solver http error: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("solver read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("solver status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}

	var parsed solverResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("solver decode error: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("solver error: %s", parsed.Error)
	}
	if len(parsed.Roster) == 0 {
		return nil, errors.New("solver returned no roster")
	}

	cache.Default().Set(ck, parsed.Roster, s.ttl)
	return parsed.Roster, nil
}
