package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

// TikTokConfig configures the TikTok business messaging client.
type TikTokConfig struct {
	ClientKey    string
	ClientSecret string
	APIURL       string
	AuthURL      string
}

// TikTok sends direct messages through the TikTok business API.
type TikTok struct {
	cfg  TikTokConfig
	http *http.Client
}

// NewTikTok creates the TikTok provider.
func NewTikTok(cfg TikTokConfig) *TikTok {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &TikTok{cfg: cfg, http: newHTTPClient()}
}

func (p *TikTok) Channel() model.Channel { return model.ChannelTikTok }

// envelope is the response wrapper of every TikTok business endpoint. A
// non-zero code is an error even with HTTP 200.
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (e envelope[T]) err(status int) error {
	if e.Code == 0 {
		return nil
	}
	return &APIError{Platform: model.ChannelTikTok, Status: status, Code: fmt.Sprint(e.Code), Message: e.Message}
}

func (p *TikTok) decoder() errorDecoder {
	return plainError(model.ChannelTikTok)
}

type tiktokToken struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	OpenID       string `json:"open_id"`
}

func (p *TikTok) token(ctx context.Context, payload map[string]string) (TokenGrant, error) {
	payload["client_id"] = p.cfg.ClientKey
	payload["client_secret"] = p.cfg.ClientSecret
	path := "/tt_user/oauth2/token/"
	if payload["grant_type"] == "refresh_token" {
		path = "/tt_user/oauth2/refresh_token/"
	}
	var resp envelope[tiktokToken]
	err := doJSON(ctx, p.http, call{
		method:  http.MethodPost,
		url:     p.cfg.APIURL + path,
		body:    payload,
		out:     &resp,
		decoder: p.decoder(),
	})
	if err != nil {
		return TokenGrant{}, err
	}
	if err := resp.err(http.StatusOK); err != nil {
		return TokenGrant{}, err
	}
	if resp.Data.AccessToken == "" {
		return TokenGrant{}, errors.New("tiktok: token response missing access_token")
	}
	return TokenGrant{
		AccessToken:  resp.Data.AccessToken,
		ExpiresIn:    time.Duration(resp.Data.ExpiresIn) * time.Second,
		AccountID:    resp.Data.OpenID,
		RefreshToken: resp.Data.RefreshToken,
	}, nil
}

// RefreshToken trades the refresh token issued with the access token for a
// new pair.
func (p *TikTok) RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error) {
	return p.token(ctx, map[string]string{"grant_type": "refresh_token", "refresh_token": refreshToken})
}

// AuthorizeURL builds the TikTok consent URL.
func (p *TikTok) AuthorizeURL(state, redirectURI string) string {
	values := url.Values{}
	values.Set("client_key", p.cfg.ClientKey)
	values.Set("redirect_uri", redirectURI)
	values.Set("state", state)
	values.Set("response_type", "code")
	values.Set("scope", "user.info.basic,message.list.read,message.list.send")
	return p.cfg.AuthURL + "?" + values.Encode()
}

// ExchangeCode trades the authorization code for an access token.
func (p *TikTok) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenGrant, error) {
	return p.token(ctx, map[string]string{"grant_type": "authorization_code", "auth_code": code, "redirect_uri": redirectURI})
}

// Send delivers a text message from the business account.
func (p *TikTok) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	body := map[string]any{
		"business_id":    req.AccountID,
		"recipient_type": "USER",
		"recipient":      req.Recipient,
		"message_type":   "TEXT",
		"text":           map[string]string{"body": req.Text},
	}
	var resp envelope[struct {
		Message struct {
			MessageID string `json:"message_id"`
		} `json:"message"`
	}]
	err := doJSON(ctx, p.http, call{
		method:  http.MethodPost,
		url:     p.cfg.APIURL + "/business/message/send/",
		header:  http.Header{"Access-Token": []string{req.AccessToken}},
		body:    body,
		out:     &resp,
		decoder: p.decoder(),
	})
	if err != nil {
		return SendResult{}, err
	}
	if err := resp.err(http.StatusOK); err != nil {
		return SendResult{}, err
	}
	return SendResult{ExternalID: resp.Data.Message.MessageID}, nil
}
