package prepare

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
)

// ExtractRetryAfterMs resolves the retry-after delay in order: header
// retry-after-ms, header retry-after (seconds), then the body's
// error.details[*] RetryInfo.retryDelay or metadata.quotaResetDelay.
// Returns (0, false) if nothing is found.
func ExtractRetryAfterMs(headers http.Header, body []byte) (int64, bool) {
	if v := headers.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms, true
		}
	}
	if v := headers.Get("retry-after"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return secs * 1000, true
		}
	}
	if ms, ok := extractFromBody(body); ok {
		return ms, true
	}
	return 0, false
}

type errorBody struct {
	Error struct {
		Details []map[string]interface{} `json:"details"`
	} `json:"error"`
}

// extractFromBody walks error.details[*] for either a RetryInfo entry
// ("@type" ends in "RetryInfo", field "retryDelay") or a
// "metadata.quotaResetDelay" field.
func extractFromBody(body []byte) (int64, bool) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return 0, false
	}
	for _, detail := range eb.Error.Details {
		if typ, _ := detail["@type"].(string); typ != "" {
			if delay, ok := detail["retryDelay"].(string); ok {
				if ms, ok := parseDuration(delay); ok {
					return ms, true
				}
			}
		}
		if metadata, ok := detail["metadata"].(map[string]interface{}); ok {
			if delay, ok := metadata["quotaResetDelay"].(string); ok {
				if ms, ok := parseDuration(delay); ok {
					return ms, true
				}
			}
		}
	}
	return 0, false
}

var durationRe = regexp.MustCompile(`^([\d.]+)([smh]?)$`)

// parseDuration parses a "<number><unit?>" string (unit in s/m/h,
// default s) into milliseconds: "2.5s" -> 2500, "3m" -> 180000.
func parseDuration(s string) (int64, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "m":
		return int64(value * 60 * 1000), true
	case "h":
		return int64(value * 3600 * 1000), true
	default:
		return int64(value * 1000), true
	}
}
