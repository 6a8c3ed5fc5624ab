package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultAuthorizationTimeout = 5 * time.Minute

// Authorizer carries the pieces of a one-shot interactive authorization run.
type Authorizer struct {
	Service *Service
	Store   core.CredentialStore
	User    string
	Scopes  []string
	// ListenAddr overrides the host:port derived from the redirect URI.
	ListenAddr string
	// OnAuthURL delivers the consent URL to the human driving the flow,
	// typically by printing it or opening a browser.
	OnAuthURL func(authURL string) error
	Timeout   time.Duration
	Logger    core.Logger
}

type callbackResult struct {
	code string
	err  error
}

// RunInteractiveAuthorization walks the full authorization-code flow against
// a loopback callback server: build the consent URL, hand it to the caller,
// wait for the redirect, validate state, exchange the code, and persist the
// credential. It returns once the credential is stored or the flow fails.
func RunInteractiveAuthorization(ctx context.Context, auth Authorizer) (core.Credential, error) {
	if auth.Service == nil {
		return core.Credential{}, fmt.Errorf("oauth: authorizer service is required")
	}
	if auth.Store == nil {
		return core.Credential{}, fmt.Errorf("oauth: authorizer store is required")
	}
	user := strings.TrimSpace(auth.User)
	if user == "" {
		return core.Credential{}, fmt.Errorf("oauth: authorizer user is required")
	}
	if auth.OnAuthURL == nil {
		return core.Credential{}, fmt.Errorf("oauth: authorizer url callback is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := glog.Ensure(auth.Logger)

	def := auth.Service.Definition()
	if def.Kind != core.CredentialKindOAuth2 {
		return core.Credential{}, fmt.Errorf("oauth: service %q does not use the authorization-code flow", def.Service)
	}

	state, err := GenerateState()
	if err != nil {
		return core.Credential{}, err
	}
	verifier := ""
	if def.UsePKCE {
		verifier, err = GeneratePKCEVerifier()
		if err != nil {
			return core.Credential{}, err
		}
	}

	authURL, err := auth.Service.AuthorizationURL(auth.Scopes, state, verifier)
	if err != nil {
		return core.Credential{}, err
	}

	listenAddr, callbackPath, err := resolveCallbackAddr(def.OAuth.RedirectURI, auth.ListenAddr)
	if err != nil {
		return core.Credential{}, err
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return core.Credential{}, fmt.Errorf("oauth: listen on %s: %w", listenAddr, err)
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errCode := strings.TrimSpace(query.Get("error")); errCode != "" {
			description := strings.TrimSpace(query.Get("error_description"))
			if description == "" {
				description = errCode
			}
			http.Error(w, "Authorization failed. You can close this window.", http.StatusBadRequest)
			deliverCallbackResult(results, callbackResult{err: fmt.Errorf("oauth: authorization denied: %s", description)})
			return
		}
		if got := strings.TrimSpace(query.Get("state")); got != state {
			http.Error(w, "State mismatch. You can close this window.", http.StatusBadRequest)
			deliverCallbackResult(results, callbackResult{err: fmt.Errorf("oauth: state mismatch on callback")})
			return
		}
		code := strings.TrimSpace(query.Get("code"))
		if code == "" {
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			deliverCallbackResult(results, callbackResult{err: fmt.Errorf("oauth: callback missing authorization code")})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Authorization complete. You can close this window.</body></html>")
		deliverCallbackResult(results, callbackResult{code: code})
	})

	server := &http.Server{Handler: mux}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			deliverCallbackResult(results, callbackResult{err: fmt.Errorf("oauth: callback server: %w", serveErr)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("waiting for authorization callback", "service", def.Service, "listen_addr", listenAddr)
	if err := auth.OnAuthURL(authURL); err != nil {
		return core.Credential{}, fmt.Errorf("oauth: deliver authorization url: %w", err)
	}

	timeout := auth.Timeout
	if timeout <= 0 {
		timeout = defaultAuthorizationTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result callbackResult
	select {
	case result = <-results:
	case <-ctx.Done():
		return core.Credential{}, ctx.Err()
	case <-timer.C:
		return core.Credential{}, fmt.Errorf("oauth: timed out waiting for authorization callback")
	}
	if result.err != nil {
		return core.Credential{}, result.err
	}

	credential, err := auth.Service.ExchangeCode(ctx, user, result.code, verifier, auth.Scopes)
	if err != nil {
		return core.Credential{}, err
	}
	if err := auth.Store.Put(ctx, credential); err != nil {
		return core.Credential{}, err
	}
	logger.Info("authorization complete", "service", def.Service, "user_id", user)
	return credential, nil
}

func deliverCallbackResult(results chan<- callbackResult, result callbackResult) {
	select {
	case results <- result:
	default:
	}
}

func resolveCallbackAddr(redirectURI, override string) (addr string, path string, err error) {
	parsed, parseErr := url.Parse(strings.TrimSpace(redirectURI))
	if parseErr != nil {
		return "", "", fmt.Errorf("oauth: parse redirect uri: %w", parseErr)
	}
	path = parsed.Path
	if path == "" {
		path = "/"
	}
	if override = strings.TrimSpace(override); override != "" {
		return override, path, nil
	}
	host := parsed.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("oauth: redirect uri %q has no host", redirectURI)
	}
	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), path, nil
}
