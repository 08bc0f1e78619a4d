package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

// MetaConfig configures the Graph API client shared by Instagram and WhatsApp.
type MetaConfig struct {
	AppID     string
	AppSecret string
	GraphURL  string
	DialogURL string
}

// Meta is a Graph API client.
type Meta struct {
	cfg  MetaConfig
	http *http.Client
}

// NewMeta creates a Graph API client.
func NewMeta(cfg MetaConfig) *Meta {
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	return &Meta{cfg: cfg, http: newHTTPClient()}
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

func (m *Meta) decoder(platform model.Channel) errorDecoder {
	return func(status int, body []byte) error {
		var ge graphError
		if err := json.Unmarshal(body, &ge); err != nil || ge.Error.Message == "" {
			return plainError(platform)(status, body)
		}
		return &APIError{
			Platform: platform,
			Status:   status,
			Code:     strconv.Itoa(ge.Error.Code),
			Message:  ge.Error.Message,
		}
	}
}

type graphToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *Meta) tokenRequest(ctx context.Context, platform model.Channel, values url.Values) (TokenGrant, error) {
	values.Set("client_id", m.cfg.AppID)
	values.Set("client_secret", m.cfg.AppSecret)

	var tok graphToken
	err := doJSON(ctx, m.http, call{
		method:  http.MethodGet,
		url:     m.cfg.GraphURL + "/oauth/access_token?" + values.Encode(),
		out:     &tok,
		decoder: m.decoder(platform),
	})
	if err != nil {
		return TokenGrant{}, err
	}
	if tok.AccessToken == "" {
		return TokenGrant{}, errors.New("meta: token response missing access_token")
	}
	return TokenGrant{AccessToken: tok.AccessToken, ExpiresIn: time.Duration(tok.ExpiresIn) * time.Second}, nil
}

// exchange trades a short or long lived user token for a fresh long lived one.
func (m *Meta) exchange(ctx context.Context, platform model.Channel, token string) (TokenGrant, error) {
	values := url.Values{}
	values.Set("grant_type", "fb_exchange_token")
	values.Set("fb_exchange_token", token)
	return m.tokenRequest(ctx, platform, values)
}

func (m *Meta) authorizeURL(scope, state, redirectURI string) string {
	values := url.Values{}
	values.Set("client_id", m.cfg.AppID)
	values.Set("redirect_uri", redirectURI)
	values.Set("state", state)
	values.Set("response_type", "code")
	values.Set("scope", scope)
	return m.cfg.DialogURL + "?" + values.Encode()
}

func (m *Meta) exchangeCode(ctx context.Context, platform model.Channel, code, redirectURI string) (TokenGrant, error) {
	values := url.Values{}
	values.Set("code", code)
	values.Set("redirect_uri", redirectURI)
	return m.tokenRequest(ctx, platform, values)
}

// Instagram sends Instagram direct messages through a Facebook page. The page
// token is derived from the user token kept in credential metadata.
type Instagram struct {
	*Meta
}

// NewInstagram creates the Instagram provider.
func NewInstagram(m *Meta) *Instagram { return &Instagram{Meta: m} }

func (p *Instagram) Channel() model.Channel { return model.ChannelInstagram }

// RefreshToken exchanges the user token for a new long lived user token.
func (p *Instagram) RefreshToken(ctx context.Context, userToken string) (TokenGrant, error) {
	return p.exchange(ctx, model.ChannelInstagram, userToken)
}

// ListAccounts lists the pages of the user that have a linked Instagram
// business account.
func (p *Instagram) ListAccounts(ctx context.Context, userToken string) ([]Account, error) {
	var resp struct {
		Data []struct {
			ID                       string `json:"id"`
			Name                     string `json:"name"`
			AccessToken              string `json:"access_token"`
			InstagramBusinessAccount *struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	values := url.Values{}
	values.Set("fields", "id,name,access_token,instagram_business_account{id,username}")
	err := doJSON(ctx, p.http, call{
		method:  http.MethodGet,
		url:     p.cfg.GraphURL + "/me/accounts?" + values.Encode(),
		header:  bearer(userToken),
		out:     &resp,
		decoder: p.decoder(model.ChannelInstagram),
	})
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(resp.Data))
	for _, page := range resp.Data {
		if page.InstagramBusinessAccount == nil || page.AccessToken == "" {
			continue
		}
		name := page.Name
		if page.InstagramBusinessAccount.Username != "" {
			name = page.InstagramBusinessAccount.Username
		}
		accounts = append(accounts, Account{
			ID:               page.ID,
			Name:             name,
			AccessToken:      page.AccessToken,
			ChannelAccountID: page.InstagramBusinessAccount.ID,
		})
	}
	return accounts, nil
}

// Send delivers a direct message with the page token.
func (p *Instagram) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	body := map[string]any{
		"recipient":      map[string]string{"id": req.Recipient},
		"message":        map[string]string{"text": req.Text},
		"messaging_type": "RESPONSE",
	}
	var resp struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	err := doJSON(ctx, p.http, call{
		method:  http.MethodPost,
		url:     p.cfg.GraphURL + "/me/messages",
		header:  bearer(req.AccessToken),
		body:    body,
		out:     &resp,
		decoder: p.decoder(model.ChannelInstagram),
	})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{ExternalID: resp.MessageID}, nil
}

// AuthorizeURL builds the Facebook login dialog URL.
func (p *Instagram) AuthorizeURL(state, redirectURI string) string {
	return p.authorizeURL("instagram_basic,instagram_manage_messages,pages_show_list,pages_messaging", state, redirectURI)
}

// ExchangeCode trades the authorization code for a short lived user token.
func (p *Instagram) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenGrant, error) {
	return p.exchangeCode(ctx, model.ChannelInstagram, code, redirectURI)
}

// WhatsApp sends messages through the WhatsApp Cloud API. Credentials are
// usually system user tokens without an expiry.
type WhatsApp struct {
	*Meta
}

// NewWhatsApp creates the WhatsApp provider.
func NewWhatsApp(m *Meta) *WhatsApp { return &WhatsApp{Meta: m} }

func (p *WhatsApp) Channel() model.Channel { return model.ChannelWhatsApp }

// RefreshToken exchanges the token for a new long lived one.
func (p *WhatsApp) RefreshToken(ctx context.Context, token string) (TokenGrant, error) {
	return p.exchange(ctx, model.ChannelWhatsApp, token)
}

// Send delivers a text message from the phone number in req.AccountID.
func (p *WhatsApp) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                req.Recipient,
		"type":              "text",
		"text":              map[string]any{"body": req.Text, "preview_url": false},
	}
	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	err := doJSON(ctx, p.http, call{
		method:  http.MethodPost,
		url:     p.cfg.GraphURL + "/" + url.PathEscape(req.AccountID) + "/messages",
		header:  bearer(req.AccessToken),
		body:    body,
		out:     &resp,
		decoder: p.decoder(model.ChannelWhatsApp),
	})
	if err != nil {
		return SendResult{}, err
	}
	var id string
	if len(resp.Messages) > 0 {
		id = resp.Messages[0].ID
	}
	return SendResult{ExternalID: id}, nil
}
