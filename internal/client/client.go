// Package client drives storyd from the outside: it tells one story over the
// websocket endpoint and reads the recent stories API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-story/internal/history"
	"github.com/loqalabs/loqa-story/internal/protocol"
)

// StoryError is an error message sent by the server that ended the run.
type StoryError struct {
	Message string
}

func (e *StoryError) Error() string { return "story failed: " + e.Message }

// Handler receives the run as it streams. Nil callbacks are skipped.
type Handler struct {
	OnStatus func(status, message string)
	OnText   func(content string)
	OnAudio  func(pcm []byte)
	// OnInteraction returns the listener's answer to a checkpoint. When nil
	// the client answers with an empty suggestion.
	OnInteraction func(req protocol.InteractionRequest) (string, error)
}

type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
}

func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &Client{base: u, http: http.DefaultClient, dialer: websocket.DefaultDialer}, nil
}

func (c *Client) wsURL() string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path += "/ws"
	return u.String()
}

type serverMessage struct {
	Type        protocol.MessageType `json:"type"`
	Status      string               `json:"status"`
	Message     string               `json:"message"`
	Content     string               `json:"content"`
	PhasePrompt string               `json:"phase_prompt"`
}

// Tell starts a story from input and blocks until the server reports it
// completed, sends an error, or ctx ends.
func (c *Client) Tell(ctx context.Context, input, language string, h Handler) error {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial story server: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	start := protocol.Inbound{Type: protocol.TypeTranscription, Text: input, Language: language}
	if err := conn.WriteJSON(start); err != nil {
		return fmt.Errorf("send transcription: %w", err)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read from story server: %w", err)
		}
		if kind == websocket.BinaryMessage {
			if h.OnAudio != nil {
				h.OnAudio(data)
			}
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode server message: %w", err)
		}
		switch msg.Type {
		case protocol.TypeStatus:
			if h.OnStatus != nil {
				h.OnStatus(msg.Status, msg.Message)
			}
			if msg.Status == protocol.StatusCompleted {
				return nil
			}
		case protocol.TypeText:
			if h.OnText != nil {
				h.OnText(msg.Content)
			}
		case protocol.TypeInteractionRequest:
			answer := ""
			if h.OnInteraction != nil {
				answer, err = h.OnInteraction(protocol.NewInteractionRequest(msg.Message, msg.PhasePrompt))
				if err != nil {
					return err
				}
			}
			reply := protocol.Inbound{Type: protocol.TypeInteractionResponse, Content: answer}
			if err := conn.WriteJSON(reply); err != nil {
				return fmt.Errorf("send interaction response: %w", err)
			}
		case protocol.TypeError:
			return &StoryError{Message: msg.Message}
		}
	}
}

// Recent returns up to limit completed stories, most recent first. A limit
// of zero leaves the choice to the server.
func (c *Client) Recent(ctx context.Context, limit int) ([]history.Turn, error) {
	u := *c.base
	u.Path += "/api/v1/stories"
	if limit > 0 {
		u.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query stories: unexpected status %s", resp.Status)
	}
	var body struct {
		Stories []history.Turn `json:"stories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode stories: %w", err)
	}
	return body.Stories, nil
}

// IsStoryError reports whether err came from a server error message.
func IsStoryError(err error) bool {
	var se *StoryError
	return errors.As(err, &se)
}
