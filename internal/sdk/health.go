package sdk

import (
	"context"
	"fmt"

	"github.com/imroc/req/v3"
)

// Health mirrors the relay's GET /health payload.
type Health struct {
	Status      string `json:"status"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Uptime      int64  `json:"uptime"`
	UptimeHuman string `json:"uptimeHuman"`
}

// FetchHealth probes the relay's health endpoint.
func FetchHealth(ctx context.Context, serverURL string) (*Health, error) {
	var health Health

	client := req.C().SetBaseURL(serverURL)
	resp, err := client.R().
		SetContext(ctx).
		SetSuccessResult(&health).
		Get("/health")
	if err != nil {
		return nil, fmt.Errorf("sdk: health probe: %w", err)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("sdk: health probe: %s", resp.Status)
	}

	return &health, nil
}
