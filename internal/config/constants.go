// Package config holds the gateway's wire-contract constants and its
// mutable runtime configuration. Constants in this file (endpoints,
// OAuth client credentials, header triples, the system-instruction
// preamble) are part of the upstream wire contract and are
// deliberately not surfaced through configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

const Version = "1.0.0"

// Upstream CloudCode endpoints, in the dispatch loop's fallback order.
const (
	EndpointDaily    = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	EndpointAutopush = "https://autopush-cloudcode-pa.sandbox.googleapis.com"
	EndpointProd     = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the dispatch-loop retry order.
var EndpointFallbacks = []string{EndpointDaily, EndpointAutopush, EndpointProd}

// DefaultProjectID is used when neither the identity nor discovery
// can resolve a project id.
const DefaultProjectID = "rising-fact-p41fc"

// HeaderStyle selects which of the two fixed header triples and
// default endpoint a request uses.
type HeaderStyle string

const (
	StyleAntigravity HeaderStyle = "antigravity"
	StyleGeminiCLI   HeaderStyle = "gemini-cli"
)

// AntigravityHeaders returns the fixed header triple for the
// "antigravity" client personality.
func AntigravityHeaders() map[string]string {
	return map[string]string{
		"User-Agent":         platformUserAgent("antigravity/1.16.5"),
		"X-Goog-Api-Client":  "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":    clientMetadata(ideTypeAntigravity, pluginTypeGemini),
	}
}

// GeminiCLIHeaders returns the fixed header triple for the
// "gemini-cli" client personality.
func GeminiCLIHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        platformUserAgent("google-genai-cli/0.4.1"),
		"X-Goog-Api-Client": "gl-node/20 gemini-cli/0.4.1",
		"Client-Metadata":   clientMetadata(ideTypeJetski, pluginTypeDuetAI),
	}
}

// HeadersForStyle dispatches to the appropriate fixed header triple.
func HeadersForStyle(style HeaderStyle) map[string]string {
	if style == StyleGeminiCLI {
		return GeminiCLIHeaders()
	}
	return AntigravityHeaders()
}

func platformUserAgent(product string) string {
	return fmt.Sprintf("%s %s/%s", product, runtime.GOOS, runtime.GOARCH)
}

// IDE/platform/plugin enums, as expected by the upstream
// ClientMetadata proto (reverse-engineered by the upstream client,
// not a public API — values kept as opaque integers).
const (
	ideTypeJetski      = 5
	ideTypeAntigravity = 6

	pluginTypeDuetAI = 1
	pluginTypeGemini = 2
)

func platformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return 3
	case "windows":
		return 1
	case "linux":
		return 2
	default:
		return 0
	}
}

func clientMetadata(ideType, pluginType int) string {
	data, _ := json.Marshal(map[string]int{
		"ideType":    ideType,
		"platform":   platformEnum(),
		"pluginType": pluginType,
	})
	return string(data)
}

// OAuth configuration. Client id/secret are public per the
// OAuth-for-installed-apps pattern, not secrets.
type oauthConfigType struct {
	ClientID              string
	ClientSecret          string
	AuthURL               string
	TokenURL              string
	UserInfoURL           string
	CallbackPort          int
	CallbackFallbackPorts []int
	Scopes                []string
}

var OAuth = oauthConfigType{
	ClientID:     "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com",
	ClientSecret: "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",
	AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:     "https://oauth2.googleapis.com/token",
	UserInfoURL:  "https://www.googleapis.com/oauth2/v1/userinfo",
	CallbackPort: oauthCallbackPort(),
	CallbackFallbackPorts: []int{
		51122, 51123, 51124, 51125, 51126,
	},
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	},
}

func oauthCallbackPort() int {
	if v := os.Getenv("OAUTH_CALLBACK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			return port
		}
	}
	return 51121
}

// AntigravitySystemInstruction is the fixed gateway-identity preamble
// required on every antigravity-style request. It must be preserved
// byte-for-byte.
const AntigravitySystemInstruction = `You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.**Absolute paths only****Proactiveness**`

// Timing and retry constants governing the dispatch loop.
const (
	ShortRetryThresholdMs = 5000
	DefaultMaxRetries     = 3
	DefaultMaxWaitMs      = 300000
	DefaultAttemptTimeout = 300 // seconds
	MaxConsecutiveFailures = 5
	FailureCooldownMs      = 30000
	FailureStateResetMs    = 120000
	RateLimitDedupWindowMs = 2000
	DefaultFallbackWaitMs  = 60000

	// AccessTokenExpiryBufferMs is the lead time before actual expiry
	// at which a token is already treated as expired.
	AccessTokenExpiryBufferMs = 60000

	// GeminiSignatureCacheTTLMs bounds how long a thought signature or
	// tool-call signature is held before it's considered stale.
	GeminiSignatureCacheTTLMs = 3600000 // 1 hour
	MinSignatureLength        = 8
)

// CapacityBackoffTiersMs is the progressive backoff ladder for
// model-capacity-exhausted responses.
var CapacityBackoffTiersMs = []int64{5000, 10000, 20000, 30000, 60000}

// MaxCapacityRetries bounds how many times the capacity-backoff ladder
// is climbed for a single request before it's treated as an ordinary
// failure.
const MaxCapacityRetries = 5

// ModelFamily is gemini or claude, derived from the model name.
type ModelFamily string

const (
	FamilyClaude  ModelFamily = "claude"
	FamilyGemini  ModelFamily = "gemini"
	FamilyUnknown ModelFamily = "unknown"
)

var claudeMarkers = []string{"claude", "opus", "sonnet"}

// FamilyOf infers the model family from its name: presence of
// "claude", "opus", or "sonnet" (case-insensitive) selects claude,
// otherwise gemini.
func FamilyOf(model string) ModelFamily {
	lower := strings.ToLower(model)
	for _, marker := range claudeMarkers {
		if strings.Contains(lower, marker) {
			return FamilyClaude
		}
	}
	return FamilyGemini
}

var gemini3Re = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether a model name implies thinking/
// reasoning output is expected.
func IsThinkingModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}
	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := gemini3Re.FindStringSubmatch(lower); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 3 {
				return true
			}
		}
	}
	return false
}

// StorageDir resolves the directory holding the account pool file:
// explicit ANTIGRAVITY_STORAGE_DIR env override, else platform default.
func StorageDir() string {
	if v := os.Getenv("ANTIGRAVITY_STORAGE_DIR"); v != "" {
		return v
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "antigravity_auth")
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "antigravity_auth")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "antigravity_auth")
}

// StoragePath resolves the account pool JSON file path: explicit
// ANTIGRAVITY_STORAGE_PATH env override, else <StorageDir>/accounts.json.
func StoragePath() string {
	if v := os.Getenv("ANTIGRAVITY_STORAGE_PATH"); v != "" {
		return v
	}
	return filepath.Join(StorageDir(), "accounts.json")
}

// AntigravityDBPath locates the Antigravity desktop app's local
// SQLite state database, used by cmd/accounts' local-discovery path.
func AntigravityDBPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library/Application Support/Antigravity/User/globalStorage/state.vscdb")
	case "windows":
		return filepath.Join(home, "AppData/Roaming/Antigravity/User/globalStorage/state.vscdb")
	default:
		return filepath.Join(home, ".config/Antigravity/User/globalStorage/state.vscdb")
	}
}

const DefaultPort = 8080
