package graph

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// defaultScope requests the application permissions granted to the app
// registration, which must include Mail.Send.
const defaultScope = "https://graph.microsoft.com/.default"

const requestTimeout = 30 * time.Second

func tokenURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID)
}

// authorizedClient returns an HTTP client that attaches a client-credentials
// bearer token to every request. Tokens are cached and refreshed by oauth2.
func authorizedClient(ctx context.Context, cfg Config, tokenEndpoint string) *http.Client {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenEndpoint,
		Scopes:       []string{defaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	client := cc.Client(ctx)
	client.Timeout = requestTimeout
	return client
}
