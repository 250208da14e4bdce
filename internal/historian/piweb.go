package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pv/scada-bridge/internal/history"
	"github.com/pv/scada-bridge/internal/tag"
)

// piWebClient talks to a PI Web API style endpoint:
// GET {base}/streams/{tagId}/recorded?startTime=...&endTime=...
type piWebClient struct {
	baseURL  string
	client   *http.Client
	authMode string
	username string
	password string
}

func newPIWebClient(cfg RemoteConfig) (Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("pi historian requires a url")
	}
	base := strings.TrimRight(cfg.URL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse pi historian url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCHTimeout
	}

	return &piWebClient{
		baseURL:  base,
		client:   &http.Client{Timeout: timeout},
		authMode: cfg.AuthMode,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

func (p *piWebClient) Name() string {
	return fmt.Sprintf("pi(%s)", p.baseURL)
}

// piItem мапится на одну архивную точку в ответе PI Web API
type piItem struct {
	Timestamp    time.Time `json:"Timestamp"`
	Value        float64   `json:"Value"`
	Good         bool      `json:"Good"`
	Questionable bool      `json:"Questionable,omitempty"`
}

type piRecorded struct {
	Items []piItem `json:"Items"`
}

func (p *piWebClient) QueryRange(ctx context.Context, tagID string, start, end time.Time) ([]history.Point, error) {
	endpoint := fmt.Sprintf("%s/streams/%s/recorded?startTime=%s&endTime=%s",
		p.baseURL,
		url.PathEscape(tagID),
		url.QueryEscape(start.UTC().Format(time.RFC3339Nano)),
		url.QueryEscape(end.UTC().Format(time.RFC3339Nano)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create pi request: %w", err)
	}
	if p.authMode == "basic" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pi historian returned status %d", resp.StatusCode)
	}

	var recorded piRecorded
	if err := json.NewDecoder(resp.Body).Decode(&recorded); err != nil {
		return nil, fmt.Errorf("decode pi response: %w", err)
	}

	points := make([]history.Point, 0, len(recorded.Items))
	for _, item := range recorded.Items {
		quality := tag.QualityGood
		if !item.Good {
			quality = tag.QualityBad
		} else if item.Questionable {
			quality = tag.QualityUncertain
		}
		points = append(points, history.Point{
			Timestamp: item.Timestamp,
			Value:     item.Value,
			Quality:   quality,
		})
	}
	return points, nil
}

func (p *piWebClient) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
