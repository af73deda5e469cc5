package prepare

import (
	"net/http"
	"testing"
)

func TestExtractRetryAfterMsPrefersHeaderMs(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after-ms", "1500")
	h.Set("retry-after", "30")
	ms, ok := ExtractRetryAfterMs(h, nil)
	if !ok || ms != 1500 {
		t.Fatalf("got (%d, %v)", ms, ok)
	}
}

func TestExtractRetryAfterMsFallsBackToSecondsHeader(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after", "3")
	ms, ok := ExtractRetryAfterMs(h, nil)
	if !ok || ms != 3000 {
		t.Fatalf("got (%d, %v)", ms, ok)
	}
}

func TestExtractRetryAfterMsFromBodyRetryInfo(t *testing.T) {
	body := []byte(`{
		"error": {
			"details": [
				{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "2.5s"}
			]
		}
	}`)
	ms, ok := ExtractRetryAfterMs(http.Header{}, body)
	if !ok || ms != 2500 {
		t.Fatalf("got (%d, %v)", ms, ok)
	}
}

func TestExtractRetryAfterMsFromBodyQuotaResetDelay(t *testing.T) {
	body := []byte(`{
		"error": {
			"details": [
				{"metadata": {"quotaResetDelay": "3m"}}
			]
		}
	}`)
	ms, ok := ExtractRetryAfterMs(http.Header{}, body)
	if !ok || ms != 180000 {
		t.Fatalf("got (%d, %v)", ms, ok)
	}
}

func TestExtractRetryAfterMsNoneFound(t *testing.T) {
	ms, ok := ExtractRetryAfterMs(http.Header{}, []byte(`{}`))
	if ok || ms != 0 {
		t.Fatalf("got (%d, %v)", ms, ok)
	}
}

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]int64{
		"2.5s": 2500,
		"3m":   180000,
		"1h":   3600000,
		"5":    5000,
	}
	for input, want := range cases {
		got, ok := parseDuration(input)
		if !ok || got != want {
			t.Errorf("parseDuration(%q) = (%d, %v), want %d", input, got, ok, want)
		}
	}
}

func TestParseDurationInvalid(t *testing.T) {
	if _, ok := parseDuration("not-a-duration"); ok {
		t.Fatal("expected invalid duration to fail")
	}
}
