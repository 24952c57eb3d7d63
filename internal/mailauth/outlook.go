// internal/mailauth/outlook.go
package mailauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/tenants"
)

// Scopes requested for Outlook mailbox automation. offline_access is what
// makes Microsoft return a refresh token at all.
var outlookScopes = []string{
	"offline_access",
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"https://graph.microsoft.com/User.Read",
}

// outlookAdapter talks to the Microsoft identity platform v2.0 endpoints
// directly over HTTP. MSAL-style confidential-client libraries hide the raw
// refresh token inside their own cache; we need it as a portable secret to
// hand to the workflow engine, so the token endpoint is called by hand. This
// asymmetry with the Gmail adapter is deliberate.
type outlookAdapter struct {
	clientID     string
	clientSecret string
	redirectURI  string

	authURL  string
	tokenURL string

	httpClient *http.Client
}

func NewOutlookAdapter(pc config.ProviderConfig, directoryTenant string) Adapter {
	base := "https://login.microsoftonline.com/" + directoryTenant + "/oauth2/v2.0"
	return &outlookAdapter{
		clientID:     pc.ClientID,
		clientSecret: pc.ClientSecret,
		redirectURI:  pc.RedirectURI,
		authURL:      base + "/authorize",
		tokenURL:     base + "/token",
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (o *outlookAdapter) Provider() string { return tenants.ProviderOutlook }

func (o *outlookAdapter) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", o.clientID)
	q.Set("response_type", "code")
	q.Set("response_mode", "query")
	q.Set("redirect_uri", o.redirectURI)
	q.Set("scope", strings.Join(outlookScopes, " "))
	q.Set("prompt", "consent")
	q.Set("state", state)
	return o.authURL + "?" + q.Encode()
}

// msalTokenResponse is Microsoft's token endpoint shape. expires_in is
// relative seconds, unlike Google's absolute expiry via x/oauth2.
type msalTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (o *outlookAdapter) Exchange(ctx context.Context, code string) (vault.TokenBundle, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", o.redirectURI)
	form.Set("scope", strings.Join(outlookScopes, " "))
	res, err := o.postToken(ctx, form)
	if err != nil {
		return vault.TokenBundle{}, fmt.Errorf("%w: %v", ErrCodeExchange, err)
	}
	return vault.TokenBundle{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    res.TokenType,
		Expiry:       time.Now().Add(time.Duration(res.ExpiresIn) * time.Second),
		Scope:        res.Scope,
	}, nil
}

func (o *outlookAdapter) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("scope", strings.Join(outlookScopes, " "))
	res, err := o.postToken(ctx, form)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%w: %v", ErrRefresh, err)
	}
	out := RefreshResult{
		AccessToken: res.AccessToken,
		Expiry:      time.Now().Add(time.Duration(res.ExpiresIn) * time.Second),
		TokenType:   res.TokenType,
	}
	// Microsoft rotates refresh tokens on every grant.
	if res.RefreshToken != "" && res.RefreshToken != refreshToken {
		out.RefreshToken = res.RefreshToken
	}
	return out, nil
}

func (o *outlookAdapter) postToken(ctx context.Context, form url.Values) (msalTokenResponse, error) {
	form.Set("client_id", o.clientID)
	form.Set("client_secret", o.clientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return msalTokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return msalTokenResponse{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out msalTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return msalTokenResponse{}, fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || out.AccessToken == "" {
		if out.Error != "" {
			return msalTokenResponse{}, fmt.Errorf("token endpoint: %s", out.Error)
		}
		return msalTokenResponse{}, fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}
	return out, nil
}
