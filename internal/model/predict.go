// Package model defines per-request types shared by the dispatcher, service and client.
package model

import (
	"context"
	"io"
	"net/http"
)

// PredictRequest is an inbound /predict/ call to be forwarded upstream.
// Inbound headers are intentionally absent: none of them reach the upstream.
type PredictRequest struct {
	Ctx           context.Context
	Method        string
	ExperimentID  string
	Body          io.ReadCloser
	ContentLength int64 // -1 when unknown
}

// PredictResponse is the upstream response to be streamed back to the caller.
type PredictResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
