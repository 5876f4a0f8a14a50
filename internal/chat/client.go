package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a minimal Telegram Bot API client: long-poll updates, send
// messages, register the command menu. Nothing else is needed.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// Update is one long-poll result.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound chat message.
type Message struct {
	Text string `json:"text"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From struct {
		ID int64 `json:"id"`
	} `json:"from"`
}

// Command is one entry of the bot command menu.
type Command struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// NewClient builds a client for the given bot token. The HTTP client
// carries no timeout of its own; long polls are bounded per request.
func NewClient(token string) *Client {
	return &Client{
		BaseURL: "https://api.telegram.org",
		Token:   token,
		HTTP:    &http.Client{},
	}
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("chat %s: decode: %w", method, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("chat %s: %s", method, apiResp.Description)
	}
	if out != nil {
		return json.Unmarshal(apiResp.Result, out)
	}
	return nil
}

// GetUpdates long-polls for updates past offset. The request deadline is
// the poll timeout plus slack so server-side expiry wins under normal
// operation.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+15*time.Second)
	defer cancel()

	params := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// SetMyCommands registers the command menu, scoped to the one chat the bot
// listens to.
func (c *Client) SetMyCommands(ctx context.Context, chatID int64, commands []Command) error {
	params := map[string]interface{}{
		"commands": commands,
		"scope": map[string]interface{}{
			"type":    "chat",
			"chat_id": chatID,
		},
	}
	return c.call(ctx, "setMyCommands", params, nil)
}
