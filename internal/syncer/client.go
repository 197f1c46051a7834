package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vibewatch/internal/storage"
)

// Client uploads event batches to the remote collection endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the given API base URL and key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type uploadEvent struct {
	ID            int64           `json:"id"`
	FileName      string          `json:"file_name"`
	LineNumber    int             `json:"line_number"`
	EventData     json.RawMessage `json:"event_data"`
	UserName      string          `json:"user_name"`
	InsertedAt    string          `json:"inserted_at"`
	GitRemoteURL  string          `json:"git_remote_url,omitempty"`
	GitCommitHash string          `json:"git_commit_hash,omitempty"`
}

type uploadRequest struct {
	Events []uploadEvent `json:"events"`
}

// uploadResponse is the JSON returned by POST /events. Uploaded is optional;
// when absent, all submitted events count as uploaded.
type uploadResponse struct {
	Uploaded *int `json:"uploaded"`
}

// UploadEvents posts a batch to {base}/events and returns the number of
// events the server acknowledged.
func (c *Client) UploadEvents(ctx context.Context, events []storage.ConversationEvent) (int, error) {
	payload := uploadRequest{Events: make([]uploadEvent, len(events))}
	for i, e := range events {
		payload.Events[i] = uploadEvent{
			ID:            e.ID,
			FileName:      e.FileName,
			LineNumber:    e.LineNumber,
			EventData:     json.RawMessage(e.EventData),
			UserName:      e.UserName,
			InsertedAt:    e.InsertedAt.UTC().Format(time.RFC3339),
			GitRemoteURL:  e.GitRemoteURL,
			GitCommitHash: e.GitCommitHash,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshalling upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("uploading events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.Uploaded != nil {
		return *result.Uploaded, nil
	}
	return len(events), nil
}
