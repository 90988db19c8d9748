package client

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/time/rate"
)

// ProviderClient talks to the messaging provider's account API. Every
// request is throttled by a token bucket shared across calls.
type ProviderClient struct {
	http      jsonClient
	accountID string
	limiter   *rate.Limiter
}

type ProviderConfig struct {
	BaseURL   string
	APIKey    string
	AccountID string

	// RequestsPerSecond caps outbound request rate. Zero disables it.
	RequestsPerSecond float64
}

func NewProviderClient(cfg ProviderConfig) *ProviderClient {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["X-API-KEY"] = cfg.APIKey
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &ProviderClient{
		http:      newJSONClient(cfg.BaseURL, headers),
		accountID: cfg.AccountID,
		limiter:   limiter,
	}
}

type inviteRequest struct {
	AccountID  string `json:"account_id"`
	ProviderID string `json:"provider_id"`
	Message    string `json:"message,omitempty"`
}

type chatRequest struct {
	AccountID    string   `json:"account_id"`
	AttendeesIDs []string `json:"attendees_ids"`
	Text         string   `json:"text"`
	InMail       bool     `json:"inmail,omitempty"`
}

type chatResponse struct {
	ChatID string `json:"chat_id"`
}

type relationsRequest struct {
	AccountID   string   `json:"account_id"`
	ProviderIDs []string `json:"provider_ids"`
}

type relationsResponse struct {
	Items []struct {
		ProviderID string `json:"provider_id"`
		Connected  bool   `json:"connected"`
	} `json:"items"`
}

// SendInvitation sends a connection request with an optional note.
func (c *ProviderClient) SendInvitation(ctx context.Context, providerID, note string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.http.post(ctx, "/api/v1/users/invite", inviteRequest{
		AccountID:  c.accountID,
		ProviderID: providerID,
		Message:    note,
	}, nil, http.StatusOK, http.StatusCreated)
}

// SendMessage opens a chat with the candidate. inmail sends it as a
// premium message to someone outside the account's network.
func (c *ProviderClient) SendMessage(ctx context.Context, providerID, text string, inmail bool) error {
	if text == "" {
		return errors.New("message text is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var out chatResponse
	return c.http.post(ctx, "/api/v1/chats", chatRequest{
		AccountID:    c.accountID,
		AttendeesIDs: []string{providerID},
		Text:         text,
		InMail:       inmail,
	}, &out, http.StatusOK, http.StatusCreated)
}

// ConnectionStatus reports, per provider id, whether the account is
// connected to that person right now.
func (c *ProviderClient) ConnectionStatus(ctx context.Context, providerIDs []string) (map[string]bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out relationsResponse
	if err := c.http.post(ctx, "/api/v1/users/relations/status", relationsRequest{
		AccountID:   c.accountID,
		ProviderIDs: providerIDs,
	}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	res := make(map[string]bool, len(out.Items))
	for _, it := range out.Items {
		res[it.ProviderID] = it.Connected
	}
	return res, nil
}
