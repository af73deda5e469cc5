// Package token implements the composite refresh-secret grammar, access
// token expiry checks, and the OAuth refresh exchange against Google's
// token endpoint.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
)

// RefreshParts are the parsed components of a stored composite secret:
// "<refresh_token>|<projectId?>|<managedProjectId?>".
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits the composite secret on "|". Missing or
// empty trailing fields become "", mirroring parse_refresh_parts.
func ParseRefreshParts(refresh string) RefreshParts {
	parts := strings.Split(refresh, "|")
	var p RefreshParts
	if len(parts) > 0 {
		p.RefreshToken = parts[0]
	}
	if len(parts) > 1 {
		p.ProjectID = parts[1]
	}
	if len(parts) > 2 {
		p.ManagedProjectID = parts[2]
	}
	return p
}

// FormatRefreshParts is the exact inverse of ParseRefreshParts: the
// project-id separator is always emitted once a managed-project-id is
// present, but never a trailing empty field beyond that.
func FormatRefreshParts(p RefreshParts) string {
	base := p.RefreshToken + "|" + p.ProjectID
	if p.ManagedProjectID != "" {
		return base + "|" + p.ManagedProjectID
	}
	return base
}

// AuthDetails is one identity's live OAuth state.
type AuthDetails struct {
	Refresh string
	Access  string
	Expires int64 // unix ms
	Email   string
}

// IsExpired reports whether the access token is missing, has no
// recorded expiry, or expires within AccessTokenExpiryBufferMs.
func IsExpired(auth AuthDetails) bool {
	if auth.Access == "" || auth.Expires == 0 {
		return true
	}
	now := time.Now().UnixMilli()
	return auth.Expires <= now+config.AccessTokenExpiryBufferMs
}

// CalculateExpiry converts a token lifetime into an absolute unix-ms
// deadline, anchored to when the refresh request was issued.
func CalculateExpiry(requestTimeMs int64, expiresInSeconds int64) int64 {
	if expiresInSeconds <= 0 {
		return requestTimeMs
	}
	return requestTimeMs + expiresInSeconds*1000
}

// RefreshError is raised only when the upstream explicitly reports
// invalid_grant — i.e. the refresh token has been revoked. Any other
// refresh failure (network error, malformed response, non-200 without
// invalid_grant) is reported as a plain error by Refresh, not this type.
type RefreshError struct {
	Message string
	Code    string
}

func (e *RefreshError) Error() string { return e.Message }

// IsRevoked reports whether err is a RefreshError carrying invalid_grant.
func IsRevoked(err error) bool {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Code == "invalid_grant"
	}
	return false
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// Refresher exchanges a refresh token for a new access token against
// Google's OAuth endpoint using plain net/http form-encoding — no
// OAuth2 client library appears anywhere in the example pack, and
// golang.org/x/oauth2's TokenSource model does not fit the
// revocation-detection and composite-secret requirements without
// fighting it (see DESIGN.md).
type Refresher struct {
	HTTPClient *http.Client
}

// NewRefresher returns a Refresher with a 30s timeout client, the
// usual budget for auxiliary (non-model) upstream calls.
func NewRefresher() *Refresher {
	return &Refresher{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// Refresh exchanges auth.Refresh for a new access token. It returns
// (nil, nil) for any non-revocation failure (network error, malformed
// body, missing access_token) so callers can fall through to endpoint
// fallback or rotation rather than hard-failing. A *RefreshError with
// Code "invalid_grant" signals the identity must be removed from the
// pool.
func (r *Refresher) Refresh(ctx context.Context, auth AuthDetails) (*AuthDetails, error) {
	parts := ParseRefreshParts(auth.Refresh)
	if parts.RefreshToken == "" {
		return nil, nil
	}

	startMs := time.Now().UnixMilli()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {parts.RefreshToken},
		"client_id":     {config.OAuth.ClientID},
		"client_secret": {config.OAuth.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.OAuth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		errorCode := body.Error
		if errorCode == "" {
			errorCode = "unknown_error"
		}
		if errorCode == "invalid_grant" {
			desc := body.ErrorDesc
			if desc == "" {
				desc = "unknown error"
			}
			return nil, &RefreshError{
				Message: fmt.Sprintf("refresh token is invalid or revoked: %s", desc),
				Code:    "invalid_grant",
			}
		}
		return nil, nil
	}

	if body.AccessToken == "" {
		return nil, nil
	}

	newRefreshToken := body.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = parts.RefreshToken
	}

	newParts := RefreshParts{
		RefreshToken:     newRefreshToken,
		ProjectID:        parts.ProjectID,
		ManagedProjectID: parts.ManagedProjectID,
	}

	expiresIn := body.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}

	return &AuthDetails{
		Refresh: FormatRefreshParts(newParts),
		Access:  body.AccessToken,
		Expires: CalculateExpiry(startMs, expiresIn),
		Email:   auth.Email,
	}, nil
}

// GetUserEmail resolves the email address bound to an access token, used
// by cmd/accounts to label an identity it has just authenticated.
func (r *Refresher) GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.OAuth.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo request failed: %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.Email == "" {
		return "", fmt.Errorf("userinfo response missing email")
	}
	return info.Email, nil
}
