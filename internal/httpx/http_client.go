// Package httpx holds the shared client for calls to external APIs
// (ServiceNow, Google Chat, model providers).
package httpx

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const defaultExternalHTTPTimeout = 90 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}

func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

// OAuthContext makes oauth2 token exchanges use the shared client and its timeout.
func OAuthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, externalHTTPClient)
}
