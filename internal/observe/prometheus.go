// Package observe queries the monitoring stack for governance inputs.
package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	promModel "github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"
)

// PrometheusClient wraps the Prometheus HTTP API for the handful of instant
// queries the governance gate needs.
type PrometheusClient struct {
	api v1.API
}

func NewPrometheusClient(address string) (*PrometheusClient, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &PrometheusClient{api: v1.NewAPI(client)}, nil
}

// DiskUsagePercent returns the latest root filesystem utilization for a host.
// ok is false when the query returned no series for that host.
func (c *PrometheusClient) DiskUsagePercent(ctx context.Context, host string) (float64, bool, error) {
	query := fmt.Sprintf(
		`100 - (node_filesystem_avail_bytes{instance=~"%s.*",mountpoint="/"} / node_filesystem_size_bytes{instance=~"%s.*",mountpoint="/"} * 100)`,
		host, host)

	result, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return 0, false, fmt.Errorf("failed to query prometheus: %w", err)
	}
	if len(warnings) > 0 {
		log.Warn().Interface("warnings", warnings).Msg("prometheus query returned warnings")
	}

	value, ok := latestValue(result)
	return value, ok, nil
}

// latestValue extracts a single sample from an instant or range result.
func latestValue(result promModel.Value) (float64, bool) {
	switch v := result.(type) {
	case promModel.Vector:
		if len(v) > 0 {
			return float64(v[0].Value), true
		}
	case promModel.Matrix:
		if len(v) > 0 && len(v[0].Values) > 0 {
			last := v[0].Values[len(v[0].Values)-1]
			return float64(last.Value), true
		}
	case *promModel.Scalar:
		return float64(v.Value), true
	}
	return 0, false
}
