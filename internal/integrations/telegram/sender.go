// Package telegram implements the outbound side of the Telegram Bot API:
// sendMessage and sendChatAction over plain HTTP.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// Client sends messages through the Telegram Bot API.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a sender for the given bot token. apiBase defaults to
// the public Bot API endpoint.
func NewClient(token, apiBase string) *Client {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Client{
		token:   token,
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !decoded.OK {
		return fmt.Errorf("telegram %s rejected: %s", method, decoded.Description)
	}
	return nil
}

// SendMessage delivers plain text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendMarkdown delivers Markdown-formatted text to a chat.
func (c *Client) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
}

// SendDocument uploads content as a named file. Used for payloads that
// would exceed the message length limit as plain text, e.g. history
// exports.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename, caption string, content []byte) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	if err := form.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("failed to build sendDocument form: %w", err)
	}
	if caption != "" {
		if err := form.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to build sendDocument form: %w", err)
		}
	}
	part, err := form.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("failed to build sendDocument form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("failed to build sendDocument form: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("failed to build sendDocument form: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("failed to build sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendDocument request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode sendDocument response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("telegram sendDocument rejected: %s", decoded.Description)
	}
	return nil
}

// SendTyping shows the typing indicator in a chat.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
}
