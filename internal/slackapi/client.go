// Package slackapi talks to the Slack Web API on behalf of installed workspaces.
package slackapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/slack-go/slack"
)

const DefaultAPIURL = "https://slack.com/api/"

type Options struct {
	APIURL       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTPClient   *http.Client
}

// Client delivers messages and dialogs with per-workspace bearer tokens and
// exchanges OAuth codes with the application credentials.
type Client struct {
	apiURL       string
	clientID     string
	clientSecret string
	redirectURL  string
	httpClient   *http.Client
}

// Message is a chat post. When ResponseURL is set the message replaces the
// original one in place instead of being posted to Channel.
type Message struct {
	Channel     string
	Text        string
	Attachments []slack.Attachment
	ResponseURL string
}

type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed: %s", e.Method, e.Code)
}

func New(opts Options) *Client {
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiURL:       apiURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		redirectURL:  opts.RedirectURL,
		httpClient:   httpClient,
	}
}

func (c *Client) api(token string) *slack.Client {
	return slack.New(token, slack.OptionAPIURL(c.apiURL), slack.OptionHTTPClient(c.httpClient))
}

func (c *Client) PostMessage(ctx context.Context, token string, msg Message) error {
	options := []slack.MsgOption{
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionAttachments(msg.Attachments...),
	}
	if msg.ResponseURL != "" {
		options = append(options, slack.MsgOptionReplaceOriginal(msg.ResponseURL))
	}
	if _, _, err := c.api(token).PostMessageContext(ctx, msg.Channel, options...); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (c *Client) OpenDialog(ctx context.Context, token, triggerID string, dialog slack.Dialog) error {
	if err := c.api(token).OpenDialogContext(ctx, triggerID, dialog); err != nil {
		return fmt.Errorf("open dialog: %w", err)
	}
	return nil
}

type OAuthAccess struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	TeamID      string `json:"team_id"`
	TeamName    string `json:"team_name"`
	UserID      string `json:"user_id"`
}

// ExchangeCode trades a single-use OAuth code for a workspace token. A response
// that is not marked ok is returned as an *APIError carrying Slack's error code.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*OAuthAccess, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("code", code)
	if c.redirectURL != "" {
		data.Set("redirect_uri", c.redirectURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"oauth.access", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build oauth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read oauth response: %w", err)
	}

	var access OAuthAccess
	if err := json.Unmarshal(body, &access); err != nil {
		return nil, fmt.Errorf("parse oauth response (status %d): %w", resp.StatusCode, err)
	}
	if !access.OK {
		return nil, &APIError{Method: "oauth.access", Code: access.Error}
	}
	return &access, nil
}
