package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/chat"
)

// errEventsDisabled is returned when the server has no events endpoint.
var errEventsDisabled = errors.New("progress events are not enabled on the server")

// apiClient talks to the companion-engine API on behalf of one user.
type apiClient struct {
	baseURL string
	user    string
	http    *http.Client
}

func (c *apiClient) userPath(format string, args ...interface{}) string {
	return fmt.Sprintf("%s/v1/users/%s", c.baseURL, c.user) + fmt.Sprintf(format, args...)
}

// do sends a JSON request and decodes a JSON response into out.
func (c *apiClient) do(method, url string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errorResp ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
		}
		return errors.New(errorResp.Error)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *apiClient) listStorylines() ([]engine.StorylineSummary, error) {
	var out struct {
		Storylines []engine.StorylineSummary `json:"storylines"`
	}
	if err := c.do(http.MethodGet, c.userPath("/storylines"), nil, &out); err != nil {
		return nil, err
	}
	return out.Storylines, nil
}

func (c *apiClient) startStoryline(id string) (*engine.StartResult, error) {
	var out engine.StartResult
	if err := c.do(http.MethodPost, c.userPath("/storylines/%s/start", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) advance(action string) (*engine.AdvanceResult, error) {
	var out engine.AdvanceResult
	if err := c.do(http.MethodPost, c.userPath("/story/advance"), map[string]string{"action": action}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) chat(message string) (string, error) {
	var out chat.ChatResponse
	if err := c.do(http.MethodPost, c.userPath("/chat"), chat.ChatRequest{Message: message}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *apiClient) character() (*engine.CharacterInfo, error) {
	var out engine.CharacterInfo
	if err := c.do(http.MethodGet, c.userPath("/character"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) history() (*chat.HistoryExport, error) {
	var out chat.HistoryExport
	if err := c.do(http.MethodGet, c.userPath("/history"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) clearHistory() error {
	return c.do(http.MethodDelete, c.userPath("/history"), nil, nil)
}

func (c *apiClient) saveSnapshot() error {
	return c.do(http.MethodPost, c.userPath("/snapshot"), nil, nil)
}

// listenToSSE streams the user's progress events to onEvent until ctx ends.
func (c *apiClient) listenToSSE(ctx context.Context, onEvent func(events.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userPath("/events"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The shared client has a timeout; a stream must not.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return errEventsDisabled
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventType != "" && eventType != "connected" {
				var ev events.Event
				if err := json.Unmarshal([]byte(data), &ev); err == nil {
					onEvent(ev)
				}
			}
			eventType, data = "", ""
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
