// internal/mailauth/gmail.go
package mailauth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"agentmail/internal/vault"
	"agentmail/pkg/config"
	"agentmail/pkg/tenants"
)

// Scopes requested for Gmail mailbox automation.
var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/userinfo.email",
}

// gmailAdapter is a standard OAuth2 authorization-code client on top of
// x/oauth2 with Google's endpoints.
type gmailAdapter struct {
	cfg oauth2.Config
}

func NewGmailAdapter(pc config.ProviderConfig) Adapter {
	return &gmailAdapter{cfg: oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		RedirectURL:  pc.RedirectURI,
		Scopes:       gmailScopes,
		Endpoint:     endpoints.Google,
	}}
}

func (g *gmailAdapter) Provider() string { return tenants.ProviderGmail }

func (g *gmailAdapter) AuthCodeURL(state string) string {
	// access_type=offline + prompt=consent guarantees refresh-token
	// issuance; Google otherwise omits it on repeat consent.
	return g.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (g *gmailAdapter) Exchange(ctx context.Context, code string) (vault.TokenBundle, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return vault.TokenBundle{}, fmt.Errorf("%w: %v", ErrCodeExchange, err)
	}
	scope, _ := tok.Extra("scope").(string)
	if scope == "" {
		scope = strings.Join(gmailScopes, " ")
	}
	return vault.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scope:        scope,
	}, nil
}

func (g *gmailAdapter) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	src := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%w: %v", ErrRefresh, err)
	}
	res := RefreshResult{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
		TokenType:   tok.TokenType,
	}
	// Google normally echoes the same refresh token; only carry a change.
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		res.RefreshToken = tok.RefreshToken
	}
	return res, nil
}
