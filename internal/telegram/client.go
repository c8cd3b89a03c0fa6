// Package telegram is a minimal Telegram Bot API client covering the
// operations the mirror needs.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIURL = "https://api.telegram.org"

	maxAttempts  = 3
	retryBackoff = time.Second
)

// APIError is an application-level error returned by the Bot API in an
// ok:false envelope.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// Message is the subset of a Bot API Message the mirror cares about.
type Message struct {
	MessageID int64 `json:"message_id"`
}

// LinkPreviewOptions controls link preview generation for a text message.
type LinkPreviewOptions struct {
	IsDisabled bool `json:"is_disabled,omitempty"`
}

// ReplyParameters anchors a message as a reply to an earlier one.
type ReplyParameters struct {
	MessageID int64 `json:"message_id"`
}

// SendMessageParams are the parameters of the sendMessage method.
type SendMessageParams struct {
	ChatID             int64               `json:"chat_id"`
	Text               string              `json:"text"`
	ParseMode          string              `json:"parse_mode,omitempty"`
	LinkPreviewOptions *LinkPreviewOptions `json:"link_preview_options,omitempty"`
	ReplyParameters    *ReplyParameters    `json:"reply_parameters,omitempty"`
}

// SendPhotoParams are the parameters of the sendPhoto method. Photo is a
// URL the Bot API fetches server-side.
type SendPhotoParams struct {
	ChatID          int64            `json:"chat_id"`
	Photo           string           `json:"photo"`
	Caption         string           `json:"caption,omitempty"`
	ParseMode       string           `json:"parse_mode,omitempty"`
	HasSpoiler      bool             `json:"has_spoiler,omitempty"`
	ReplyParameters *ReplyParameters `json:"reply_parameters,omitempty"`
}

// InputMediaPhoto is one entry of a media group.
type InputMediaPhoto struct {
	Type       string `json:"type"`
	Media      string `json:"media"`
	Caption    string `json:"caption,omitempty"`
	ParseMode  string `json:"parse_mode,omitempty"`
	HasSpoiler bool   `json:"has_spoiler,omitempty"`
}

// SendMediaGroupParams are the parameters of the sendMediaGroup method.
type SendMediaGroupParams struct {
	ChatID          int64             `json:"chat_id"`
	Media           []InputMediaPhoto `json:"media"`
	ReplyParameters *ReplyParameters  `json:"reply_parameters,omitempty"`
}

// DeleteMessagesParams are the parameters of the deleteMessages method.
type DeleteMessagesParams struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// Client calls the Telegram Bot API over JSON/HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Bot API client. If apiURL is empty, the public
// https://api.telegram.org endpoint is used.
func NewClient(apiURL, token string) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{
		baseURL: apiURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	var msg Message
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendPhoto sends a single photo with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, params SendPhotoParams) (*Message, error) {
	var msg Message
	if err := c.call(ctx, "sendPhoto", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMediaGroup sends an album of photos. The API returns one message per
// album entry.
func (c *Client) SendMediaGroup(ctx context.Context, params SendMediaGroupParams) ([]Message, error) {
	var msgs []Message
	if err := c.call(ctx, "sendMediaGroup", params, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteMessages deletes a batch of messages in one call.
func (c *Client) DeleteMessages(ctx context.Context, params DeleteMessagesParams) error {
	return c.call(ctx, "deleteMessages", params, nil)
}

// call posts one Bot API method. Transport failures and 5xx responses are
// retried a few times; an ok:false envelope is surfaced as *APIError.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	reqURL := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		body, retryable, err := c.doRequest(ctx, reqURL, payload)
		if err != nil {
			if !retryable {
				return fmt.Errorf("%s: %w", method, err)
			}
			lastErr = err
			continue
		}

		var envelope struct {
			OK          bool            `json:"ok"`
			Result      json.RawMessage `json:"result"`
			ErrorCode   int             `json:"error_code"`
			Description string          `json:"description"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("%s: unmarshal envelope: %w", method, err)
		}

		if !envelope.OK {
			return fmt.Errorf("%s: %w", method, &APIError{
				Code:        envelope.ErrorCode,
				Description: envelope.Description,
			})
		}

		if result != nil && len(envelope.Result) > 0 {
			if err := json.Unmarshal(envelope.Result, result); err != nil {
				return fmt.Errorf("%s: unmarshal result: %w", method, err)
			}
		}
		return nil
	}

	return fmt.Errorf("%s: %w", method, lastErr)
}

func (c *Client) doRequest(ctx context.Context, url string, payload []byte) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error (status %d): %s", resp.StatusCode, body)
	}

	// Both 200s and 4xx carry the JSON envelope.
	return body, false, nil
}
