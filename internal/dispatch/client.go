package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/prepare"
)

// attemptResult is the outcome of one upstream HTTP call.
type attemptResult struct {
	Status  int
	Headers http.Header
	Body    []byte
	Err     error // transport-level error (no response at all)
}

// fallbackStatuses triggers moving to the next endpoint candidate.
func isFallbackStatus(status int) bool {
	switch status {
	case 403, 404, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// isModelCapacityExhausted reports whether an error body describes the
// model itself being temporarily out of capacity, as opposed to an
// ordinary server error — the upstream carries this distinction in the
// error text rather than a dedicated status code.
func isModelCapacityExhausted(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range []string{
		"model_capacity_exhausted",
		"capacity_exhausted",
		"model is currently overloaded",
		"service temporarily unavailable",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// execute issues the request against the upstream, trying endpoint
// candidates in order starting at initialBase: 403/404/500/502/503/504
// or network error moves to the next candidate; 429 short-circuits
// immediately; success or other 4xx returns immediately.
func execute(ctx context.Context, httpClient *http.Client, env *prepare.Envelope, headers map[string]string, initialBase string, action string, streaming bool) (attemptResult, string) {
	bodyBytes, err := json.Marshal(env)
	if err != nil {
		return attemptResult{Err: err}, initialBase
	}

	candidates := orderedCandidates(initialBase)
	var last attemptResult
	var lastBase string

	for _, base := range candidates {
		url := prepare.BuildURL(base, action, streaming)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			last = attemptResult{Err: err}
			lastBase = base
			continue
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			last = attemptResult{Err: err}
			lastBase = base
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		result := attemptResult{Status: resp.StatusCode, Headers: resp.Header, Body: data, Err: readErr}
		lastBase = base

		if result.Err != nil || isFallbackStatus(result.Status) {
			last = result
			continue
		}
		return result, base
	}
	return last, lastBase
}

// executeStreaming is execute's streaming counterpart: it returns the
// live response body (caller must close it) on success, without
// buffering, so the stream package can decode it incrementally.
func executeStreaming(ctx context.Context, httpClient *http.Client, env *prepare.Envelope, headers map[string]string, initialBase string) (*http.Response, attemptResult, string) {
	bodyBytes, err := json.Marshal(env)
	if err != nil {
		return nil, attemptResult{Err: err}, initialBase
	}

	candidates := orderedCandidates(initialBase)
	var last attemptResult
	var lastBase string

	for _, base := range candidates {
		url := prepare.BuildURL(base, "streamGenerateContent", true)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			last = attemptResult{Err: err}
			lastBase = base
			continue
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			last = attemptResult{Err: err}
			lastBase = base
			continue
		}
		lastBase = base

		if isFallbackStatus(resp.StatusCode) {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			last = attemptResult{Status: resp.StatusCode, Headers: resp.Header, Body: data}
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, attemptResult{Status: resp.StatusCode, Headers: resp.Header, Body: data}, base
		}
		return resp, attemptResult{Status: resp.StatusCode, Headers: resp.Header}, base
	}
	return nil, last, lastBase
}

// orderedCandidates rotates config.EndpointFallbacks so initialBase is
// first, preserving the remaining fallback order after it.
func orderedCandidates(initialBase string) []string {
	out := make([]string, 0, len(config.EndpointFallbacks))
	out = append(out, initialBase)
	for _, ep := range config.EndpointFallbacks {
		if ep != initialBase {
			out = append(out, ep)
		}
	}
	return out
}

func newHTTPClient(timeoutSeconds int) *http.Client {
	return &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}
}
