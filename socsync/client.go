package socsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/hr_sync_backend/socsync")

// Params is the resolved "parametro" set of one export call.
type Params struct {
	BaseURL string
	Values  map[string]string
}

// Dataset is a fetched export: the decoded UTF-8 body and its top-level array.
type Dataset struct {
	Records []gjson.Result
	Raw     []byte
}

// Fetcher pulls the full dataset of one export. It never touches storage.
type Fetcher interface {
	Fetch(ctx context.Context, kind string, params Params) (*Dataset, error)
}

type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	charset    string
	maxBody    int64
}

func NewClient(settings config.SyncSettings) *Client {
	limit := rate.Inf
	if settings.FetchRatePerSecond > 0 {
		limit = rate.Limit(settings.FetchRatePerSecond)
	}
	timeout := settings.FetchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, 1),
		charset:    settings.Charset,
		maxBody:    settings.MaxBodyBytes,
	}
}

func (c *Client) Fetch(ctx context.Context, kind string, params Params) (*Dataset, error) {
	ctx, span := tracer.Start(ctx, "soc.fetch", trace.WithAttributes(attribute.String("soc.kind", kind)))
	defer span.End()

	ds, err := c.fetch(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("soc.records", len(ds.Records)))
	return ds, nil
}

func (c *Client) fetch(ctx context.Context, params Params) (*Dataset, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Op: "rate limit wait", Err: err}
	}

	reqURL, err := buildExportURL(params)
	if err != nil {
		return nil, &ConfigurationError{Field: "base url", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &NetworkError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, "request", err)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if c.maxBody > 0 {
		reader = io.LimitReader(resp.Body, c.maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, c.classify(ctx, "read body", err)
	}
	if c.maxBody > 0 && int64(len(body)) > c.maxBody {
		return nil, &BadResponseError{
			Reason: fmt.Sprintf("body exceeds %d bytes", c.maxBody),
			Sample: sample(body[:c.maxBody]),
		}
	}

	decoded, decodeErr := decodeBody(body, c.charset)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr != nil {
			decoded = body
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Sample: sample(decoded)}
	}
	if decodeErr != nil {
		return nil, &BadResponseError{Reason: "body is not in the expected charset", Sample: sample(body)}
	}

	decoded = bytes.TrimSpace(bytes.TrimPrefix(decoded, []byte("\xef\xbb\xbf")))
	if !gjson.ValidBytes(decoded) {
		return nil, &BadResponseError{Reason: "body is not valid JSON", Sample: sample(decoded)}
	}
	parsed := gjson.ParseBytes(decoded)
	if !parsed.IsArray() {
		return nil, &BadResponseError{Reason: "top-level value is not an array", Sample: sample(decoded)}
	}
	return &Dataset{Records: parsed.Array(), Raw: decoded}, nil
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: c.timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{After: c.timeout, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}

// buildExportURL renders GET <base>?parametro=<url-encoded JSON params>.
func buildExportURL(params Params) (string, error) {
	u, err := url.Parse(params.BaseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("base url must be absolute")
	}
	payload, err := json.Marshal(params.Values)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("parametro", string(payload))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SOC serves Windows-1252 unless configured otherwise.
func decodeBody(body []byte, charset string) ([]byte, error) {
	switch charset {
	case config.CharsetUTF8:
		return body, nil
	case config.CharsetISO88591:
		return charmap.ISO8859_1.NewDecoder().Bytes(body)
	default:
		return charmap.Windows1252.NewDecoder().Bytes(body)
	}
}

// ParseDataset rebuilds a Dataset from a previously stored UTF-8 body.
func ParseDataset(raw []byte) (*Dataset, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &BadResponseError{Reason: "snapshot is not valid JSON", Sample: sample(raw)}
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, &BadResponseError{Reason: "snapshot is not an array", Sample: sample(raw)}
	}
	return &Dataset{Records: parsed.Array(), Raw: raw}, nil
}
