package annolinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Annoline HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// WorkItem is the item being presented.
type WorkItem struct {
	EntityID     string `json:"entity_id"`
	Keyword      string `json:"keyword"`
	SourceText   string `json:"source_text"`
	Translation1 string `json:"translation_1"`
	Translation2 string `json:"translation_2"`
	Translation3 string `json:"translation_3"`
	Dialect      string `json:"dialect"`
	Processed    string `json:"processed"`
}

type Mapping struct {
	EntityID         string `json:"entity_id,omitempty"`
	SourceToken      string `json:"source_token"`
	TranslationToken string `json:"translation_token"`
	EditedSource     string `json:"edited_source,omitempty"`
}

// Progress mirrors the tracker report.
type Progress struct {
	Date          string  `json:"date"`
	Daily         int     `json:"daily_annotated"`
	Total         int     `json:"total_annotated"`
	DailyTarget   int     `json:"daily_target"`
	TotalTarget   int     `json:"total_target"`
	DailyFraction float64 `json:"daily_fraction"`
	DaysPassed    int     `json:"days_passed"`
	Expected      int     `json:"expected_annotations"`
	Delta         int     `json:"delta"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
}

// Session is the server's view of an annotation session.
type Session struct {
	ID       string    `json:"id"`
	State    string    `json:"state"`
	Current  *WorkItem `json:"current"`
	Staged   []Mapping `json:"staged_mappings"`
	Skipped  []string  `json:"skipped"`
	Warning  string    `json:"warning"`
	Previous []Mapping `json:"previous_mappings"`
	Progress *Progress `json:"progress"`
}

// Exhausted reports whether no work is left for this annotator.
func (s Session) Exhausted() bool { return s.State == "exhausted" }

type Annotation struct {
	ID                  int64  `json:"id"`
	EntityID            string `json:"entity_id"`
	SelectedTranslation string `json:"selected_translation"`
	Datestamp           string `json:"datestamp"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Validation reports whether the server refused a transition and left state unchanged.
func (e *APIError) Validation() bool { return e.Code == "validation_failed" }

// StartSession opens a session and returns the first item.
func (c *Client) StartSession(ctx context.Context, annotatorID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", map[string]any{"annotator_id": annotatorID}, &resp)
	return resp, err
}

func (c *Client) Session(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &resp)
	return resp, err
}

// EndSession discards staged mappings. Claims are kept.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, nil)
}

// StageMapping stages one source to translation token alignment.
func (c *Client) StageMapping(ctx context.Context, sessionID, sourceToken, translationToken string) (Session, error) {
	var resp Session
	body := map[string]any{"source_token": sourceToken, "translation_token": translationToken}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "mappings"), body, &resp)
	return resp, err
}

func (c *Client) ClearMappings(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodDelete, sessionPath(sessionID, "mappings"), nil, &resp)
	return resp, err
}

// Process submits the current item. Empty edited texts keep the originals.
func (c *Client) Process(ctx context.Context, sessionID, selected, editedSource, editedTranslation string) (Annotation, Session, error) {
	var resp struct {
		Annotation Annotation `json:"annotation"`
		Session    Session    `json:"session"`
	}
	body := map[string]any{
		"selected_translation": selected,
		"edited_source":        editedSource,
		"edited_translation":   editedTranslation,
	}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "process"), body, &resp)
	return resp.Annotation, resp.Session, err
}

func (c *Client) Skip(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "skip"), nil, &resp)
	return resp, err
}

func (c *Client) Reject(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "reject"), nil, &resp)
	return resp, err
}

// Progress returns the annotator's standing against schedule.
func (c *Client) Progress(ctx context.Context, annotatorID string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("annotators/%s/progress", url.PathEscape(annotatorID)), nil, &resp)
	return resp, err
}

// PreviousMappings lists earlier alignments of a source token.
func (c *Client) PreviousMappings(ctx context.Context, sourceToken string) ([]Mapping, error) {
	var resp []Mapping
	err := c.do(ctx, http.MethodGet, "mappings?source_token="+url.QueryEscape(sourceToken), nil, &resp)
	return resp, err
}

func sessionPath(id, action string) string {
	p := "sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
