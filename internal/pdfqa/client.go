package pdfqa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Paths holds the endpoint paths of the PDF Q&A service.
type Paths struct {
	Upload  string
	Ask     string
	Remove  string
	History string
	List    string
}

// DefaultPaths are the endpoints the service exposes out of the box.
var DefaultPaths = Paths{
	Upload:  "/upload_pdfs",
	Ask:     "/ask",
	Remove:  "/remove_pdf",
	History: "/history",
	List:    "/get_uploaded_pdfs",
}

// Client communicates with the PDF Q&A service HTTP API.
type Client struct {
	baseURL    string
	paths      Paths
	httpClient *http.Client
}

// NewClient creates a client. A zero timeout means requests are only bounded
// by their context.
func NewClient(baseURL string, paths Paths, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   paths,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Part is one file in an upload request.
type Part struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Example is a retrieved passage the service used for an answer.
type Example struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// ErrNoResponse is returned by Ask when a successful reply carries no
// response text.
var ErrNoResponse = errors.New("reply has no response field")

// Answer is the response from POST /ask.
type Answer struct {
	Response string    `json:"response"`
	Examples []Example `json:"examples,omitempty"`
}

// UploadedPDF is a document the service already holds.
type UploadedPDF struct {
	Name string `json:"text"`
	URL  string `json:"url"`
}

// Turn is one question/answer pair of the service-side chat history.
type Turn struct {
	User string `json:"user"`
	Bot  string `json:"bot"`
}

// UploadPDFs sends every part in a single multipart request under the form
// field "pdfs" and returns the service's success message, if any.
func (c *Client) UploadPDFs(ctx context.Context, parts []Part) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(mw, parts))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.paths.Upload, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var result struct {
		Message string `json:"message"`
	}
	if err := c.do(httpReq, "upload pdfs", &result); err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	return result.Message, nil
}

func writeParts(mw *multipart.Writer, parts []Part) error {
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="pdfs"; filename="%s"`, escapeQuotes(p.Name)))
		h.Set("Content-Type", "application/pdf")
		w, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", p.Name, err)
		}
		rc, err := p.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", p.Name, err)
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("copy %s: %w", p.Name, err)
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// Ask posts a question and returns the service's answer.
func (c *Client) Ask(ctx context.Context, question string) (*Answer, error) {
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, c.paths.Ask, map[string]string{"question": question})
	if err != nil {
		return nil, err
	}
	var reply struct {
		Response *string   `json:"response"`
		Examples []Example `json:"examples"`
	}
	if err := c.do(httpReq, "ask", &reply); err != nil {
		return nil, err
	}
	if reply.Response == nil {
		return nil, fmt.Errorf("ask: decode response: %w", ErrNoResponse)
	}
	return &Answer{Response: *reply.Response, Examples: reply.Examples}, nil
}

// RemovePDF tells the service a document was removed from the list.
func (c *Client) RemovePDF(ctx context.Context, name string) (string, error) {
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, c.paths.Remove, map[string]string{"fileName": name})
	if err != nil {
		return "", err
	}
	var result struct {
		Message string `json:"message"`
	}
	if err := c.do(httpReq, "remove pdf", &result); err != nil {
		return "", err
	}
	return result.Message, nil
}

// ListPDFs returns the documents the service already holds.
func (c *Client) ListPDFs(ctx context.Context) ([]UploadedPDF, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.paths.List, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var result struct {
		PDFs []UploadedPDF `json:"uploaded_pdfs"`
	}
	if err := c.do(httpReq, "list pdfs", &result); err != nil {
		return nil, err
	}
	return result.PDFs, nil
}

// History returns the service-side chat history.
func (c *Client) History(ctx context.Context) ([]Turn, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.paths.History, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var result struct {
		History []Turn `json:"chat_history"`
	}
	if err := c.do(httpReq, "history", &result); err != nil {
		return nil, err
	}
	return result.History, nil
}

// ClearHistory deletes the service-side chat history.
func (c *Client) ClearHistory(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+c.paths.History, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(httpReq, "clear history", nil)
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// do sends the request. A non-2xx status with a JSON body becomes an
// *APIError; one without is a decode error like any other unreadable reply.
// A 2xx body is decoded into out when out is non-nil.
func (c *Client) do(httpReq *http.Request, op string, out any) error {
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(respBody, &body); err != nil {
			// Not the service talking, e.g. a proxy's HTML error page.
			return fmt.Errorf("%s: status %d: decode error body: %w", op, resp.StatusCode, err)
		}
		return &APIError{Op: op, Status: resp.StatusCode, Message: body.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// APIError is a failure reported by the service with a non-2xx status.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// Describe returns the service-provided message of an *APIError, or fallback
// for every other error and for APIErrors without a message.
func Describe(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// IsAPIError reports whether err was reported by the service itself rather
// than by the transport or the decoder.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
