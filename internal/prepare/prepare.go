// Package prepare implements the Request Preparer: model-name
// normalization, header-style inference, endpoint selection, and
// upstream envelope/header construction.
package prepare

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
)

// Turn is one caller-supplied conversation turn, already in the
// upstream's canonical shape.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a single content fragment; only Text is populated by callers
// (image/tool parts pass through Extra when present).
type Part struct {
	Text string `json:"text,omitempty"`
}

// Request is the caller's logical request, independent of wire shape.
type Request struct {
	Model          string
	Turns          []Turn
	SystemPrompt   string
	Streaming      bool
	GenerationOverrides map[string]interface{}
}

// FamilyOf infers gemini/claude from the model name.
func FamilyOf(model string) config.ModelFamily { return config.FamilyOf(model) }

var (
	antigravitySuffix = regexp.MustCompile(`(?i):antigravity$`)
	tierSuffix        = regexp.MustCompile(`(?i)-(minimal|low|medium|high)$`)
)

// NormalizeModel implements Gemini-3's model-name normalization,
// returning the wire model name and resolved tier (empty for
// non-Gemini-3 models or families other than gemini).
func NormalizeModel(model string) (wireModel string, tier string) {
	if FamilyOf(model) != config.FamilyGemini {
		return model, ""
	}
	stripped := antigravitySuffix.ReplaceAllString(model, "")

	tier = ""
	base := stripped
	if m := tierSuffix.FindStringSubmatch(stripped); m != nil {
		tier = strings.ToLower(m[1])
		base = strings.TrimSuffix(stripped, "-"+m[1])
	}

	lower := strings.ToLower(base)
	switch {
	case strings.Contains(lower, "gemini-3-pro"):
		if tier != "" {
			return stripped, tier
		}
		return base + "-low", "low"
	case strings.Contains(lower, "gemini-3-flash"):
		if tier == "" {
			tier = "low"
		}
		return base, tier
	default:
		return stripped, ""
	}
}

// HeaderStyleFor implements the header-style inference rule.
func HeaderStyleFor(model string) config.HeaderStyle {
	if FamilyOf(model) == config.FamilyClaude {
		return config.StyleAntigravity
	}
	lower := strings.ToLower(model)
	if strings.Contains(lower, ":antigravity") {
		return config.StyleAntigravity
	}
	if strings.Contains(lower, "gemini-3") && !strings.Contains(lower, "-preview") {
		return config.StyleAntigravity
	}
	return config.StyleGeminiCLI
}

// InitialEndpoint returns the first upstream base to try, per style.
func InitialEndpoint(style config.HeaderStyle) string {
	if style == config.StyleGeminiCLI {
		return config.EndpointProd
	}
	return config.EndpointDaily
}

// BuildURL constructs the full upstream action URL.
func BuildURL(base, action string, streaming bool) string {
	name := "generateContent"
	if streaming {
		name = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/v1internal:%s", base, name)
	if streaming {
		url += "?alt=sse"
	}
	return url
}

func translateRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "user", "model":
		return role
	default:
		return "user"
	}
}

// Envelope is the outer request wrapper sent to the upstream.
type Envelope struct {
	Project     string                 `json:"project"`
	Model       string                 `json:"model"`
	Request     map[string]interface{} `json:"request"`
	RequestType string                 `json:"requestType"`
	UserAgent   string                 `json:"userAgent"`
	RequestID   string                 `json:"requestId"`
}

// duplicateIdentityPart, when true, re-adds an anti-detection duplicate
// "[ignore]"-wrapped system-instruction part. Off by default: the
// system-instruction rule is exact and narrower, this is an additive
// compatibility behavior preserved as opt-in only.
var duplicateIdentityPart = false

// SetDuplicateIdentityPart toggles the optional duplicate-identity
// compatibility behavior (see DESIGN.md).
func SetDuplicateIdentityPart(enabled bool) { duplicateIdentityPart = enabled }

// BuildEnvelope constructs the full upstream request body.
func BuildEnvelope(req Request, wireModel, tier, projectID string, style config.HeaderStyle) *Envelope {
	contents := make([]map[string]interface{}, 0, len(req.Turns))
	for _, t := range req.Turns {
		parts := make([]map[string]interface{}, 0, len(t.Parts))
		for _, p := range t.Parts {
			parts = append(parts, map[string]interface{}{"text": p.Text})
		}
		contents = append(contents, map[string]interface{}{
			"role":  translateRole(t.Role),
			"parts": parts,
		})
	}

	inner := map[string]interface{}{"contents": contents}

	if len(req.GenerationOverrides) > 0 || tier != "" {
		genConfig := make(map[string]interface{}, len(req.GenerationOverrides)+1)
		for k, v := range req.GenerationOverrides {
			genConfig[k] = v
		}
		if tier != "" {
			genConfig["thinkingConfig"] = map[string]interface{}{
				"includeThoughts": true,
				"thinkingLevel":   tier,
			}
		}
		inner["generationConfig"] = genConfig
	}

	if style == config.StyleAntigravity {
		text := config.AntigravitySystemInstruction
		if req.SystemPrompt != "" {
			text = text + "\n\n" + req.SystemPrompt
		}
		parts := []map[string]interface{}{{"text": text}}
		if duplicateIdentityPart {
			parts = append(parts, map[string]interface{}{
				"text": "Please ignore the following [ignore]" + config.AntigravitySystemInstruction + "[/ignore]",
			})
		}
		inner["systemInstruction"] = map[string]interface{}{
			"role":  "user",
			"parts": parts,
		}
	} else if req.SystemPrompt != "" {
		inner["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]interface{}{{"text": req.SystemPrompt}},
		}
	}

	return &Envelope{
		Project:     projectID,
		Model:       wireModel,
		Request:     inner,
		RequestType: "agent",
		UserAgent:   "antigravity",
		RequestID:   "agent-" + uuid.New().String(),
	}
}

// BuildHeaders builds the common plus style-specific header set.
func BuildHeaders(accessToken, model string, streaming bool, style config.HeaderStyle) map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
		"Content-Type":  "application/json",
	}
	if streaming {
		headers["Accept"] = "text/event-stream"
	} else {
		headers["Accept"] = "application/json"
	}
	for k, v := range config.HeadersForStyle(style) {
		headers[k] = v
	}
	if FamilyOf(model) == config.FamilyClaude && config.IsThinkingModel(model) {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}
	return headers
}

// ExtractText concatenates every part's text field where the part does
// NOT also carry a "thought" field.
func ExtractText(parts []map[string]interface{}) string {
	var b strings.Builder
	for _, part := range parts {
		if _, hasThought := part["thought"]; hasThought {
			continue
		}
		if text, ok := part["text"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

// CaptureSignatures scans decoded response parts for Gemini's
// non-standard thoughtSignature field, recording it in cache against
// the model family that minted it and, for a part carrying a
// functionCall, against that call's id — so a later turn in the same
// conversation can have its signature restored if the wire shape ever
// threads one back in. A nil cache is a no-op.
func CaptureSignatures(cache *SignatureCache, family config.ModelFamily, parts []map[string]interface{}) {
	if cache == nil {
		return
	}
	for _, part := range parts {
		signature, ok := part["thoughtSignature"].(string)
		if !ok || signature == "" {
			continue
		}
		cache.CacheThinkingFamily(signature, string(family))
		if call, ok := part["functionCall"].(map[string]interface{}); ok {
			if id, ok := call["id"].(string); ok {
				cache.CacheSignature(id, signature)
			}
		}
	}
}

// candidatesOf pulls the candidates array out of a decoded upstream
// JSON body, tolerating both response.candidates and top-level
// candidates.
func candidatesOf(body map[string]interface{}) []interface{} {
	candidates, _ := body["candidates"].([]interface{})
	if candidates == nil {
		if resp, ok := body["response"].(map[string]interface{}); ok {
			candidates, _ = resp["candidates"].([]interface{})
		}
	}
	return candidates
}

func partsOfCandidate(candidate interface{}) []map[string]interface{} {
	c, ok := candidate.(map[string]interface{})
	if !ok {
		return nil
	}
	content, ok := c["content"].(map[string]interface{})
	if !ok {
		return nil
	}
	rawParts, _ := content["parts"].([]interface{})
	out := make([]map[string]interface{}, 0, len(rawParts))
	for _, rp := range rawParts {
		if m, ok := rp.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// ExtractParts pulls candidates[0].content.parts out of a decoded
// upstream JSON body, the non-streaming response shape.
func ExtractParts(body map[string]interface{}) []map[string]interface{} {
	candidates := candidatesOf(body)
	if len(candidates) == 0 {
		return nil
	}
	return partsOfCandidate(candidates[0])
}

// ExtractAllParts pulls candidates[*].content.parts out of a decoded
// upstream JSON body, concatenated in candidate order. Streaming
// events can carry more than one candidate per line, unlike the
// single-candidate non-streaming response ExtractParts handles.
func ExtractAllParts(body map[string]interface{}) []map[string]interface{} {
	candidates := candidatesOf(body)
	out := make([]map[string]interface{}, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, partsOfCandidate(c)...)
	}
	return out
}
