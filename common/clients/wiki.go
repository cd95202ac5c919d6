package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WikiClient talks to the wiki core's internal API. The review engine uses
// it to hand revert requests back to the edit collaborator; the unapprove
// that triggered the revert stays committed even if the call fails.
type WikiClient struct {
	http    *HTTPClient
	baseURL string
	logger  Logger
}

// NewWikiClient creates a wiki core client
func NewWikiClient(baseURL string, logger Logger) *WikiClient {
	httpClient := NewHTTPClient(&http.Client{Timeout: 10 * time.Second}, logger)
	return &WikiClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// revertPayload is the body of an internal revert request
type revertPayload struct {
	PageID  int64  `json:"page_id"`
	ToRevID int64  `json:"to_rev_id"`
	Comment string `json:"comment,omitempty"`
}

// RequestRevert asks the wiki core to restore a page to the given revision
func (w *WikiClient) RequestRevert(ctx context.Context, pageID, toRevID int64, comment string) error {
	payload, err := json.Marshal(revertPayload{
		PageID:  pageID,
		ToRevID: toRevID,
		Comment: comment,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/internal/pages/%d/revert", w.baseURL, pageID)
	resp, err := w.http.DoRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("revert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("revert request rejected: status %d", resp.StatusCode)
	}

	w.logger.Info("revert requested", "page_id", pageID, "to_rev_id", toRevID)
	return nil
}
