// Package policy retrieves per-product quantity limits from the lookup backend
// and caches them with a short TTL, biased toward safety on failure.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/clock"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/observability"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/util/resiliency"
)

// ErrLookupFailed marks a lookup whose outcome could not be established.
var ErrLookupFailed = errors.New("policy lookup failed")

const maxPayload = 1 << 20

// LookupError describes one failed attempt against one endpoint.
type LookupError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *LookupError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("lookup %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("lookup %s: %v", e.Endpoint, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Doer is satisfied by *http.Client and *resiliency.EnhancedClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Lookup fetches the current policy for a product. A nil policy with a nil
// error is a clean negative: the product is unconstrained.
type Lookup interface {
	Fetch(ctx context.Context, id limits.ProductID) (*limits.Policy, error)
}

const lookupSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "minLimit": {"$ref": "#/$defs/bound"},
    "maxLimit": {"$ref": "#/$defs/bound"},
    "productName": {"type": ["string", "null"]}
  },
  "$defs": {
    "bound": {
      "anyOf": [
        {"type": "integer"},
        {"type": "string", "pattern": "^\\s*-?\\d*\\s*$"},
        {"type": "null"}
      ]
    }
  }
}`

var (
	minText  = regexp.MustCompile(`(?i)(?:"?minLimit"?|minimum(?:\s+order)?\s+quantity)\s*[:=]\s*"?(\d+)`)
	maxText  = regexp.MustCompile(`(?i)(?:"?maxLimit"?|maximum(?:\s+order)?\s+quantity)\s*[:=]\s*"?(\d+)`)
	nameText = regexp.MustCompile(`(?i)"?productName"?\s*[:=]\s*"([^"<]+)"`)
)

// Fetcher queries an ordered list of lookup endpoints until one yields a
// definite answer.
type Fetcher struct {
	client    Doer
	baseURL   string
	shop      string
	endpoints []string
	limiter   *rate.Limiter
	schema    *jsonschema.Schema
	clock     clock.Clock
	telemetry *observability.Provider
	logger    *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithClient sets the HTTP client. The default is a resiliency.EnhancedClient.
func WithClient(d Doer) FetcherOption {
	return func(f *Fetcher) { f.client = d }
}

// WithRateLimit caps outgoing lookups per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) FetcherOption {
	return func(f *Fetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock sets the clock used for FetchedAt and cache busting.
func WithClock(c clock.Clock) FetcherOption {
	return func(f *Fetcher) { f.clock = c }
}

// WithTelemetry traces each lookup.
func WithTelemetry(p *observability.Provider) FetcherOption {
	return func(f *Fetcher) { f.telemetry = p }
}

// NewFetcher creates a fetcher for baseURL + each endpoint path, in order.
func NewFetcher(baseURL, shop string, endpoints []string, opts ...FetcherOption) (*Fetcher, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("policy: at least one lookup endpoint is required")
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://cartguard.schemas.local/policy/lookup.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(lookupSchema)); err != nil {
		return nil, fmt.Errorf("lookup schema load failed: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("lookup schema compile failed: %w", err)
	}

	f := &Fetcher{
		client:    resiliency.NewEnhancedClient(),
		baseURL:   strings.TrimRight(baseURL, "/"),
		shop:      shop,
		endpoints: endpoints,
		limiter:   rate.NewLimiter(rate.Limit(10), 5),
		schema:    schema,
		clock:     clock.Real{},
		telemetry: observability.Disabled(),
		logger:    slog.Default().With("component", "policy_fetcher"),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Fetch tries each endpoint in order. The first definite answer wins; a
// definite answer is a 2xx response whose payload parses, with or without
// bounds. When every endpoint fails the returned error wraps ErrLookupFailed.
func (f *Fetcher) Fetch(ctx context.Context, id limits.ProductID) (p *limits.Policy, err error) {
	ctx, finish := f.telemetry.TrackOperation(ctx, "cartguard.lookup", observability.LookupOperation(f.shop, string(id))...)
	defer func() { finish(err) }()

	var errs []error
	for _, ep := range f.endpoints {
		got, epErr := f.fetchOne(ctx, ep, id)
		if epErr == nil {
			return got, nil
		}
		f.logger.Debug("lookup endpoint failed", "endpoint", ep, "product_id", id, "error", epErr)
		observability.AddSpanEvent(ctx, "endpoint_failed", attribute.String("endpoint", ep))
		errs = append(errs, epErr)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: product %s: %w", ErrLookupFailed, id, errors.Join(errs...))
}

func (f *Fetcher) fetchOne(ctx context.Context, endpoint string, id limits.ProductID) (*limits.Policy, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &LookupError{Endpoint: endpoint, Err: err}
		}
	}

	q := url.Values{}
	q.Set("productId", string(id))
	if f.shop != "" {
		q.Set("shop", f.shop)
	}
	q.Set("_", strconv.FormatInt(f.clock.Now().UnixNano(), 10))
	target := f.baseURL + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &LookupError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &LookupError{Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LookupError{Endpoint: endpoint, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return nil, &LookupError{Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	p, err := f.parse(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &LookupError{Endpoint: endpoint, Err: err}
	}
	p.ProductID = id
	p.FetchedAt = f.clock.Now()
	if !p.Constrained() {
		return nil, nil
	}
	return p, nil
}

// parse accepts a JSON payload or, degraded, an HTML/text payload containing
// recognizable bound labels.
func (f *Fetcher) parse(body []byte, contentType string) (*limits.Policy, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return f.parseJSON(trimmed)
	}
	if strings.Contains(contentType, "json") {
		return nil, errors.New("payload is not a JSON object")
	}
	return parseText(string(body))
}

func (f *Fetcher) parseJSON(body []byte) (*limits.Policy, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := f.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("payload schema validation failed: %w", err)
	}
	obj := raw.(map[string]any)

	minV, err := boundValue(obj["minLimit"])
	if err != nil {
		return nil, fmt.Errorf("minLimit: %w", err)
	}
	maxV, err := boundValue(obj["maxLimit"])
	if err != nil {
		return nil, fmt.Errorf("maxLimit: %w", err)
	}
	p := limits.Bounds("", minV, maxV)
	if name, ok := obj["productName"].(string); ok {
		p.DisplayName = normalizeName(name)
	}
	return p, nil
}

func parseText(body string) (*limits.Policy, error) {
	var minV, maxV int
	found := false
	if m := minText.FindStringSubmatch(body); m != nil {
		minV, _ = strconv.Atoi(m[1])
		found = true
	}
	if m := maxText.FindStringSubmatch(body); m != nil {
		maxV, _ = strconv.Atoi(m[1])
		found = true
	}
	if !found {
		return nil, errors.New("payload carries no recognizable limits")
	}
	p := limits.Bounds("", minV, maxV)
	if m := nameText.FindStringSubmatch(body); m != nil {
		p.DisplayName = normalizeName(m[1])
	}
	return p, nil
}

// boundValue reads an integer bound given as a JSON number or numeric string.
// Missing, null and empty values are 0 (no bound).
func boundValue(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		return strconv.Atoi(t.String())
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	return 0, fmt.Errorf("unsupported bound type %T", v)
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
