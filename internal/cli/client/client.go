// Package client is the HTTP client cruxctl uses to talk to the Crux API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Vielheim/crux/internal/cli/version"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cruxctl/"+version.Short())

	return c.httpClient.Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	contentType := ""
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.doRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(respBody)
	}
	return nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Detail != "" || errResp.Message != "") {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Detail
		if apiErr.Message == "" {
			apiErr.Message = errResp.Message
		}
	}
	return apiErr
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) CreateUser(ctx context.Context, username, email string) (*User, error) {
	var u User
	req := map[string]string{"username": username, "email": email}
	if err := c.doJSON(ctx, http.MethodPost, "/users", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	var resp listUsersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/users"+pageQuery(limit, offset), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) GetClimb(ctx context.Context, id int64) (*Climb, error) {
	var climb Climb
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/climbs/%d", id), nil, &climb); err != nil {
		return nil, err
	}
	return &climb, nil
}

func (c *Client) ListClimbs(ctx context.Context, userID int64, limit, offset int) ([]Climb, error) {
	var resp listClimbsResponse
	path := fmt.Sprintf("/users/%d/climbs", userID) + pageQuery(limit, offset)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Climbs, nil
}

// ContentTypeFor maps a video filename to the content type the upload
// endpoint accepts. Unknown extensions fall back to the system table, which
// the server will then reject.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Upload streams filePath to /upload-video. Every byte read from the file is
// also written to progress when it is non-nil.
func (c *Client) Upload(ctx context.Context, userID int64, filePath string, progress io.Writer) (*UploadResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var src io.Reader = file
	if progress != nil {
		src = io.TeeReader(file, progress)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	errCh := make(chan error, 1)

	go func() {
		err := writeUploadForm(writer, userID, filepath.Base(filePath), src)
		_ = pw.CloseWithError(err)
		errCh <- err
	}()

	resp, err := c.doRequest(ctx, http.MethodPost, "/upload-video", pr, writer.FormDataContentType())
	if err != nil {
		_ = pr.CloseWithError(err)
		<-errCh
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		_ = pr.Close()
		<-errCh
		return nil, parseError(resp)
	}

	if writeErr := <-errCh; writeErr != nil {
		return nil, fmt.Errorf("failed to write multipart form: %w", writeErr)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func writeUploadForm(writer *multipart.Writer, userID int64, filename string, src io.Reader) error {
	if err := writer.WriteField("user_id", strconv.FormatInt(userID, 10)); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", ContentTypeFor(filename))
	part, err := writer.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return writer.Close()
}

// WaitForClimb polls the climb every interval until it reaches a terminal
// status or ctx ends. onPoll, if set, sees every intermediate state.
func (c *Client) WaitForClimb(ctx context.Context, id int64, interval time.Duration, onPoll func(*Climb)) (*Climb, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Climb
	for {
		climb, err := c.GetClimb(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return nil, err
		}
		last = climb
		if onPoll != nil {
			onPoll(climb)
		}
		if climb.Terminal() {
			return climb, nil
		}

		select {
		case <-ctx.Done():
			return climb, ctx.Err()
		case <-ticker.C:
		}
	}
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
