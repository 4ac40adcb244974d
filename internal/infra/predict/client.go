package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

const (
	DefaultFieldName = "image"

	maxResponseBytes = 8 << 20
	maxErrorText     = 512
)

// Client posts staged files to the prediction endpoint as multipart/form-data.
type Client struct {
	HTTP      *http.Client
	Endpoint  string
	FieldName string
	log       *zap.Logger
}

func NewClient(endpoint, fieldName string, log *zap.Logger) *Client {
	if fieldName == "" {
		fieldName = DefaultFieldName
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		HTTP:      &http.Client{},
		Endpoint:  endpoint,
		FieldName: fieldName,
		log:       log,
	}
}

// Predict implementasi domain.Predictor. The caller's context carries the timeout.
func (c *Client) Predict(ctx context.Context, f domain.File, progress domain.ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = func(int) {}
	}
	if err := validateEndpoint(c.Endpoint); err != nil {
		return nil, &domain.TransportError{Kind: domain.KindRequest, Err: err}
	}

	body, contentType, err := encodeMultipart(c.FieldName, f)
	if err != nil {
		return nil, &domain.TransportError{Kind: domain.KindRequest, Err: fmt.Errorf("encode multipart body: %w", err)}
	}

	total := int64(body.Len())
	pr := &progressReader{r: bytes.NewReader(body.Bytes()), total: total, report: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, pr)
	if err != nil {
		return nil, &domain.TransportError{Kind: domain.KindRequest, Err: err}
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.log.Debug("sending prediction request",
		zap.String("endpoint", c.Endpoint),
		zap.String("file", f.Name),
		zap.Int64("bytes", total),
	)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Kind: domain.KindNoResponse, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.TransportError{Kind: domain.KindNoResponse, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.TransportError{
			Kind:       domain.KindServer,
			StatusCode: resp.StatusCode,
			Message:    serverMessage(data),
		}
	}
	return data, nil
}

// Check reports whether the prediction endpoint answers at all.
// Any HTTP status counts as reachable.
func (c *Client) Check(ctx context.Context) error {
	if err := validateEndpoint(c.Endpoint); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("predictor unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid prediction endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid prediction endpoint scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("prediction endpoint has no host")
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeMultipart(field string, f domain.File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	name := f.Name
	if name == "" {
		name = "upload"
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(name)))
	h.Set("Content-Type", ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// serverMessage picks the error text out of a non-2xx body.
func serverMessage(body []byte) string {
	var obj struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &obj) == nil {
		switch v := obj.Error.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
		if obj.Message != "" {
			return obj.Message
		}
		return ""
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorText {
		text = text[:maxErrorText] + "..."
	}
	return text
}

// progressReader reports how much of the body the transport has consumed.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report domain.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	pct := 100
	if p.total > 0 && p.read < p.total {
		pct = int(p.read * 100 / p.total)
	}
	if pct > p.last || (err == io.EOF && p.last < 100) {
		p.last = pct
		p.report(pct)
	}
	return n, err
}
