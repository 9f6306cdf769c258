// Package graph implements a Transport that submits reports through the
// Microsoft Graph sendMail API using OAuth2 client credentials.
package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/email"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds the app registration used to call Graph.
type Config struct {
	TenantID        string
	ClientID        string
	ClientSecret    string
	SaveToSentItems bool
}

// Error is returned when Graph rejects a sendMail request.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph sendMail failed (HTTP %d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph sendMail failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// Transport sends mail as the message's From user.
type Transport struct {
	client     *resty.Client
	saveToSent bool
	log        *logrus.Entry
}

// New creates a Graph Transport authenticating against the tenant's token
// endpoint.
func New(ctx context.Context, cfg Config, log *logrus.Entry) *Transport {
	return newTransport(ctx, cfg, defaultBaseURL, tokenURL(cfg.TenantID), log)
}

func newTransport(ctx context.Context, cfg Config, baseURL, tokenEndpoint string, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	client := resty.NewWithClient(authorizedClient(ctx, cfg, tokenEndpoint)).
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")

	return &Transport{
		client:     client,
		saveToSent: cfg.SaveToSentItems,
		log:        log.WithField("transport", "graph"),
	}
}

// Send posts msg to /users/{from}/sendMail. Graph answers 202 on success.
func (t *Transport) Send(ctx context.Context, msg *email.Email) error {
	if msg.From == "" {
		return fmt.Errorf("graph sendMail requires a sender address")
	}

	var apiErr errorResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(buildSendMailRequest(msg, t.saveToSent)).
		SetError(&apiErr).
		Post("/users/" + url.PathEscape(msg.From) + "/sendMail")
	if err != nil {
		return fmt.Errorf("graph sendMail request failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusAccepted, http.StatusOK:
		t.log.WithField("request_id", resp.Header().Get("request-id")).Debug("Graph accepted message")
		return nil
	}

	gerr := &Error{StatusCode: resp.StatusCode(), Code: apiErr.Error.Code, Message: apiErr.Error.Message}
	if gerr.Message == "" {
		gerr.Message = resp.String()
	}
	return gerr
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "graph"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
