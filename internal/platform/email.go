package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

// Email sends plain text replies through a transactional email HTTP API. The
// credential access token is the API key and the account id is the sending
// address.
type Email struct {
	apiURL string
	http   *http.Client
}

// NewEmail creates the email provider.
func NewEmail(apiURL string) *Email {
	return &Email{apiURL: strings.TrimRight(apiURL, "/"), http: newHTTPClient()}
}

func (p *Email) Channel() model.Channel { return model.ChannelEmail }

// RefreshToken is unsupported; API keys do not expire.
func (p *Email) RefreshToken(context.Context, string) (TokenGrant, error) {
	return TokenGrant{}, ErrRefreshUnsupported
}

func (p *Email) decoder(status int, body []byte) error {
	var e struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return plainError(model.ChannelEmail)(status, body)
	}
	return &APIError{Platform: model.ChannelEmail, Status: status, Code: e.Name, Message: e.Message}
}

// Send delivers a plain text email.
func (p *Email) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	subject := req.Subject
	if subject == "" {
		subject = "Re: your message"
	}
	body := map[string]any{
		"from":    req.AccountID,
		"to":      []string{req.Recipient},
		"subject": subject,
		"text":    req.Text,
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := doJSON(ctx, p.http, call{
		method:  http.MethodPost,
		url:     p.apiURL + "/emails",
		header:  bearer(req.AccessToken),
		body:    body,
		out:     &resp,
		decoder: p.decoder,
	})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{ExternalID: resp.ID}, nil
}
