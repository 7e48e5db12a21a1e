package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-consent-server/internal/config"
	"github.com/jrsteele09/go-consent-server/internal/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

type tokenUserFlags struct {
	endpoint     string
	clientID     string
	clientSecret string
	scopes       []string
	port         int
	timeout      time.Duration
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain tokens from a running server",
	}
	cmd.AddCommand(newTokenUserCmd())
	return cmd
}

func newTokenUserCmd() *cobra.Command {
	var f tokenUserFlags
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Run the authorization code flow with PKCE in a browser and print the tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokenUser(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.endpoint, "endpoint", "e", config.EnvVars{}.GetBaseURL(), "issuer URL of the consent server")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "client id, the client must allow the callback as redirect URI")
	cmd.Flags().StringVar(&f.clientSecret, "client-secret", "", "client secret, empty for public clients")
	cmd.Flags().StringSliceVar(&f.scopes, "scope", []string{oidc.ScopeOpenID, oidc.ScopeOfflineAccess}, "scopes to request")
	cmd.Flags().IntVar(&f.port, "port", 4446, "port of the local callback listener")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Minute, "how long to wait for the callback")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

type callbackResult struct {
	code string
	err  error
}

func runTokenUser(ctx context.Context, f tokenUserFlags) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, f.endpoint)
	if err != nil {
		return errors.Wrap(err, "[token user] discovery")
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(f.port))
	conf := &oauth2.Config{
		ClientID:     f.clientID,
		ClientSecret: f.clientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  "http://" + addr + callbackPath,
		Scopes:       f.scopes,
	}
	state, err := utils.RandomToken(16)
	if err != nil {
		return err
	}
	nonce, err := utils.RandomToken(16)
	if err != nil {
		return err
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{code: q.Get("code")}
		switch {
		case q.Get("state") != state:
			res.err = errors.New("state mismatch")
		case q.Get("error") != "":
			res.err = errors.Errorf("%s: %s", q.Get("error"), q.Get("error_description"))
		case res.code == "":
			res.err = errors.New("callback carries no code")
		}
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})
	listener := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := listener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			results <- callbackResult{err: errors.Wrap(err, "callback listener")}
		}
	}()
	defer func() { _ = shutdown(listener) }()

	authURL := conf.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.S256ChallengeOption(verifier))
	fmt.Printf("Open this URL in a browser to sign in:\n\n  %s\n\n", authURL)

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "[token user] waiting for callback")
	}
	if res.err != nil {
		return res.err
	}

	tok, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return errors.Wrap(err, "[token user] code exchange")
	}
	out := map[string]any{
		"access_token":  tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"token_type":    tok.TokenType,
		"expiry":        tok.Expiry,
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		idToken, err := provider.Verifier(&oidc.Config{ClientID: f.clientID}).Verify(ctx, raw)
		if err != nil {
			return errors.Wrap(err, "[token user] id token")
		}
		if idToken.Nonce != nonce {
			return errors.New("[token user] id token nonce mismatch")
		}
		var claims map[string]any
		if err := idToken.Claims(&claims); err != nil {
			return err
		}
		out["id_token"] = raw
		out["id_token_claims"] = claims
	} else {
		log.Warn().Msg("no id token issued; request the openid scope to get one")
	}
	return printJSON(out)
}
