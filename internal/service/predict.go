// Package service implements the prediction forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"predict-proxy/internal/client"
	"predict-proxy/internal/config"
	"predict-proxy/internal/model"
)

// PredictPrefix is the inbound path prefix that selects the proxy branch.
const PredictPrefix = "/predict/"

// DefaultContentType is reported when the upstream omits Content-Type.
const DefaultContentType = "application/json"

// upstreamHeader is the complete header set sent upstream. Inbound headers,
// Authorization included, are never forwarded.
var upstreamHeader = http.Header{
	"Content-Type": {"text/plain;charset=UTF-8"},
	"Accept":       {"*/*"},
}

// ExperimentID returns everything after PredictPrefix in path, verbatim.
// The identifier is not decoded or validated and may be empty or contain
// further slashes.
func ExperimentID(path string) (string, bool) {
	id, ok := strings.CutPrefix(path, PredictPrefix)
	if !ok {
		return "", false
	}
	return id, true
}

// PredictService handles the forwarding logic for prediction requests.
type PredictService struct {
	client     *client.PredictionClient
	logger     *slog.Logger
	predictURL string
}

// NewPredictService creates a PredictService targeting cfg.Upstream.BaseURL.
func NewPredictService(c *client.PredictionClient, cfg *config.Config, logger *slog.Logger) *PredictService {
	base := cfg.Upstream.BaseURL
	if base == "" {
		base = config.DefaultUpstreamURL
	}
	return &PredictService{
		client:     c,
		logger:     logger.With("component", "predict_service"),
		predictURL: strings.TrimRight(base, "/") + PredictPrefix,
	}
}

// UpstreamURL returns the upstream target for an experiment identifier. The
// identifier is concatenated as-is; malformed results surface as errors when
// the request is built.
func (s *PredictService) UpstreamURL(experimentID string) string {
	return s.predictURL + experimentID
}

// Forward sends a PredictRequest to the prediction API and returns the response
// with its headers reduced to Content-Type. Any upstream status is a success.
// The caller is responsible for closing the response body.
func (s *PredictService) Forward(pr *model.PredictRequest) (*model.PredictResponse, error) {
	target := s.UpstreamURL(pr.ExperimentID)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"experiment_id", pr.ExperimentID,
	)

	header := upstreamHeader.Clone()
	// An empty User-Agent keeps net/http from sending its default one.
	header["User-Agent"] = []string{""}

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// filterResponseHeaders keeps only Content-Type, defaulting it to
// DefaultContentType.
func filterResponseHeaders(src http.Header) http.Header {
	ct := src.Get("Content-Type")
	if ct == "" {
		ct = DefaultContentType
	}
	return http.Header{"Content-Type": {ct}}
}
