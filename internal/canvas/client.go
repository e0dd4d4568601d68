// Package canvas is a small client for the Canvas LMS REST API covering what
// the connector needs: courses, course files and file contents.
package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/canvasadmin/canvasadmin/internal/retry"
)

// DefaultFileSizeLimit is the largest file, in bytes, whose text is extracted.
const DefaultFileSizeLimit = 5000000

var (
	ErrUnauthorized    = errors.New("canvas rejected the api key")
	ErrNotFound        = errors.New("canvas resource not found")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedFile = errors.New("file type not supported")
)

// Course is a Canvas course.
type Course struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
}

// File is a Canvas file attached to a course.
type File struct {
	ID          int64      `json:"id"`
	DisplayName string     `json:"display_name"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content-type"`
	URL         string     `json:"url"`
	Size        int64      `json:"size"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// User is the owner of an API key.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client calls one Canvas instance with one API key.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	policy        retry.Policy
	fileSizeLimit int64
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithFileSizeLimit sets the largest file whose contents are parsed.
func WithFileSizeLimit(limit int64) Option {
	return func(c *Client) { c.fileSizeLimit = limit }
}

// NewClient creates a client for the instance at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		policy:        retry.DefaultPolicy(),
		fileSizeLimit: DefaultFileSizeLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Self returns the user owning the API key. It is the cheapest call that proves
// the key works.
func (c *Client) Self(ctx context.Context) (User, error) {
	var u User
	_, err := c.getJSON(ctx, c.baseURL+"/api/v1/users/self", &u)
	return u, err
}

// ListCourses returns the courses the key can see.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	var all []Course
	err := c.paginate(ctx, c.baseURL+"/api/v1/courses?per_page=100", func(raw json.RawMessage) error {
		var page []Course
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		all = append(all, page...)
		return nil
	})
	return all, err
}

// ListCourseFiles returns every file of a course.
func (c *Client) ListCourseFiles(ctx context.Context, courseID int64) ([]File, error) {
	var all []File
	next := fmt.Sprintf("%s/api/v1/courses/%d/files?per_page=100", c.baseURL, courseID)
	err := c.paginate(ctx, next, func(raw json.RawMessage) error {
		var page []File
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		all = append(all, page...)
		return nil
	})
	return all, err
}

// Supported reports whether the connector can extract text from name.
func Supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf", ".txt":
		return true
	}
	return false
}

// FileText downloads f and extracts its text.
func (c *Client) FileText(ctx context.Context, f File) (string, error) {
	if f.Size > c.fileSizeLimit {
		return "", fmt.Errorf("%w: %s (%d)", ErrFileTooLarge, f.DisplayName, f.Size)
	}

	ext := strings.ToLower(path.Ext(f.DisplayName))
	if ext != ".pdf" && ext != ".txt" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, f.DisplayName)
	}

	raw, err := c.Download(ctx, f)
	if err != nil {
		return "", err
	}
	if ext == ".txt" {
		return string(raw), nil
	}
	return pdfText(raw)
}

// Download fetches the contents of f.
func (c *Client) Download(ctx context.Context, f File) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.policy, func() error {
		resp, err := c.send(ctx, f.URL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		// Canvas may report a stale size; never read past the limit.
		limited := io.LimitReader(resp.Body, c.fileSizeLimit+1)
		body, err = io.ReadAll(limited)
		if err != nil {
			return retry.New(fmt.Errorf("failed to read %s: %w", f.DisplayName, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.fileSizeLimit {
		return nil, fmt.Errorf("%w: %s (more than %d)", ErrFileTooLarge, f.DisplayName, c.fileSizeLimit)
	}
	return body, nil
}

// pdfText extracts the plain text of a PDF. The pdf package panics on some
// corrupt cross-reference tables; those surface as errors.
func pdfText(raw []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("failed to extract pdf text: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return string(out), nil
}

func (c *Client) paginate(ctx context.Context, next string, page func(json.RawMessage) error) error {
	for next != "" {
		var raw json.RawMessage
		header, err := c.getJSON(ctx, next, &raw)
		if err != nil {
			return err
		}
		if err := page(raw); err != nil {
			return fmt.Errorf("failed to decode canvas page: %w", err)
		}
		next = nextLink(header.Get("Link"))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) (http.Header, error) {
	var header http.Header
	err := retry.Do(ctx, c.policy, func() error {
		resp, err := c.send(ctx, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		header = resp.Header
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode canvas response: %w", err)
		}
		return nil
	})
	return header, err
}

// send performs one authenticated GET and classifies failures.
func (c *Client) send(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build canvas request: %w", err)
	}
	// Download URLs may point at a file store on another host; only send the key
	// to the Canvas instance itself.
	if sameHost(c.baseURL, rawURL) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.New(fmt.Errorf("canvas request failed: %w", err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	return nil, retry.FromResponse(resp, fmt.Errorf("canvas returned status %d", resp.StatusCode))
}

func sameHost(base, target string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.EqualFold(b.Host, t.Host)
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
				return target
			}
		}
	}
	return ""
}
