// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package comms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client provides a Messenger backed by a bot-style HTTP chat API: every
// method is a POST of a JSON body to <apiURL>/<token>/<method>. When no API
// URL is configured the client is disabled and logs outgoing messages
// instead of sending them, handing out synthetic message ids so the rest of
// the engine behaves normally.
type Client struct {
	apiURL   string
	token    string
	http     *http.Client
	disabled bool

	// syntheticID feeds message ids while disabled.
	syntheticID atomic.Int64
}

var _ Messenger = (*Client)(nil)

// New returns a new Client. An empty apiURL returns a disabled client.
func New(apiURL, token string) *Client {
	return &Client{
		apiURL: apiURL,
		token:  token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		disabled: apiURL == "",
	}
}

// IsEnabled returns whether the client sends for real.
func (c *Client) IsEnabled() bool {
	return !c.disabled
}

// apiError is the transport's failure envelope.
type apiError struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// call POSTs the request body to the named API method and decodes the reply
// into reply when it is non-nil. HTTP 403 means the recipient has blocked
// the bot and HTTP 404 on a message operation means the message is gone;
// both map onto the soft-failure sentinels.
func (c *Client) call(ctx context.Context, method string, body, reply interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%v/%v/%v", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusForbidden:
		return ErrRecipientBlocked
	case http.StatusBadRequest, http.StatusNotFound:
		var ae apiError
		rb, _ := io.ReadAll(res.Body)
		_ = json.Unmarshal(rb, &ae)
		if ae.ErrorCode == http.StatusNotFound {
			return ErrMessageNotFound
		}
		return fmt.Errorf("transport %v: %v %v", method,
			res.StatusCode, ae.Description)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("transport %v: unexpected status %v",
			method, res.StatusCode)
	}

	if reply == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(reply)
}

// SendMessage satisfies the Messenger interface.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*MessageRef, error) {
	if c.disabled {
		log.Infof("Transport disabled, would send to %v: %v",
			chatID, text)
		return &MessageRef{
			ChatID:    chatID,
			MessageID: c.syntheticID.Add(1),
		}, nil
	}

	var reply struct {
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	err := c.call(ctx, "sendMessage", struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}{
		ChatID: chatID,
		Text:   text,
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &MessageRef{
		ChatID:    chatID,
		MessageID: reply.Result.MessageID,
	}, nil
}

// EditMessage satisfies the Messenger interface.
func (c *Client) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	if c.disabled {
		log.Infof("Transport disabled, would edit %v: %v", ref, text)
		return nil
	}
	return c.call(ctx, "editMessageText", struct {
		ChatID    int64  `json:"chat_id"`
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
	}{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Text:      text,
	}, nil)
}

// DeleteMessage satisfies the Messenger interface.
func (c *Client) DeleteMessage(ctx context.Context, ref MessageRef) error {
	if c.disabled {
		log.Infof("Transport disabled, would delete %v", ref)
		return nil
	}
	return c.call(ctx, "deleteMessage", struct {
		ChatID    int64 `json:"chat_id"`
		MessageID int64 `json:"message_id"`
	}{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
	}, nil)
}

// PinMessage satisfies the Messenger interface.
func (c *Client) PinMessage(ctx context.Context, ref MessageRef) error {
	if c.disabled {
		log.Infof("Transport disabled, would pin %v", ref)
		return nil
	}
	return c.call(ctx, "pinChatMessage", struct {
		ChatID    int64 `json:"chat_id"`
		MessageID int64 `json:"message_id"`
	}{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
	}, nil)
}

// AnswerCallback satisfies the Messenger interface.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if c.disabled {
		log.Infof("Transport disabled, would answer callback %v",
			callbackID)
		return nil
	}
	return c.call(ctx, "answerCallbackQuery", struct {
		CallbackQueryID string `json:"callback_query_id"`
		Text            string `json:"text"`
	}{
		CallbackQueryID: callbackID,
		Text:            text,
	}, nil)
}
