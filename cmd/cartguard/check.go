package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/cart"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/config"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/dom"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/gate"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limits"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/observability"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/policy"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/productid"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/session"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/util/resiliency"
)

const maxPage = 8 << 20

type checkResult struct {
	URL       string            `json:"url"`
	ProductID string            `json:"product_id,omitempty"`
	Strategy  string            `json:"strategy"`
	Gate      string            `json:"gate"`
	Message   string            `json:"message,omitempty"`
	Verdict   limits.Verdict    `json:"verdict"`
	Cart      []limits.CartLine `json:"cart"`
	Policies  []*limits.Policy  `json:"policies"`
	Error     string            `json:"error,omitempty"`
}

// runCheckCmd implements `cartguard check <page-url>`: one headless session
// against a live storefront.
//
// Exit codes:
//
//	0 = checkout open
//	1 = checkout blocked
//	2 = usage or setup error
func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		shop        = cmd.String("shop", cfg.Shop, "shop domain sent with lookups")
		storefront  = cmd.String("storefront", "", "storefront base URL (defaults to the page's origin)")
		profilePath = cmd.String("profile", cfg.ThemeProfile, "theme profile YAML")
		jsonOut     = cmd.Bool("json", false, "print the result as JSON")
		renderOut   = cmd.Bool("render", false, "print the gated page instead of a summary")
		watch       = cmd.Duration("watch", 0, "keep re-validating for this long, reloading the profile on change")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: cartguard check [flags] <page-url>")
		return 2
	}
	setupLogging(stderr, cfg.LogLevel)

	pageURL, err := url.Parse(cmd.Arg(0))
	if err != nil || pageURL.Scheme == "" || pageURL.Host == "" {
		_, _ = fmt.Fprintf(stderr, "Error: invalid page URL %q\n", cmd.Arg(0))
		return 2
	}
	base := *storefront
	if base == "" {
		base = pageURL.Scheme + "://" + pageURL.Host
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := loadProfile(*profilePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	matchers, err := profile.Matchers()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	telemetry := observability.Disabled()
	if cfg.OTelEnabled {
		oc := observability.DefaultConfig()
		oc.Enabled = true
		oc.OTLPEndpoint = cfg.OTelEndpoint
		if telemetry, err = observability.New(ctx, oc); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
			return 2
		}
		defer func() { _ = telemetry.Shutdown(context.Background()) }()
	}

	client := resiliency.NewEnhancedClient()
	doc, err := fetchPage(ctx, client, pageURL.String())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	sessionStore, closeStore, err := openSessionStore(ctx, cfg, "cartguard:"+uuid.NewString())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeStore()

	fetcher, err := policy.NewFetcher(base, *shop, cfg.LookupPaths,
		policy.WithClient(client),
		policy.WithRateLimit(cfg.LookupRPS, 5),
		policy.WithTelemetry(telemetry))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cache := policy.NewCache(fetcher, sessionStore, nil, cfg.CacheTTL)
	resolver := productid.NewResolver(matchers, profile.ProductRoutePrefix)
	reader := cart.NewReader(&http.Client{Timeout: 10 * time.Second}, base, cfg.CartPath)

	sess := session.New(session.Deps{
		Doc:       doc,
		Matchers:  matchers,
		Resolver:  resolver,
		Cart:      reader,
		Policies:  cache,
		Store:     sessionStore,
		Telemetry: telemetry,
	}, session.Options{
		SnapshotTTL:   cfg.SnapshotTTL,
		SettleDelay:   cfg.SettleDelay,
		Throttle:      cfg.Throttle,
		SafetyTimeout: cfg.SafetyTimeout,
		PollInterval:  cfg.PollInterval,
		MutationPaths: profile.MutationPaths,
		Labels: gate.Labels{
			Pending: profile.Labels.Pending,
			Retry:   profile.Labels.Retry,
			Dismiss: profile.Labels.Dismiss,
		},
	})

	if *watch > 0 {
		watchCtx, cancel := context.WithTimeout(ctx, *watch)
		defer cancel()
		if *profilePath != "" {
			go func() {
				err := config.WatchProfile(watchCtx, *profilePath, func(p *config.ThemeProfile) {
					m, err := p.Matchers()
					if err != nil {
						slog.Warn("reloaded profile has invalid matchers", "error", err)
						return
					}
					matchers.Replace(m)
					_, _ = sess.Revalidate(watchCtx)
				})
				if err != nil {
					slog.Warn("profile watch stopped", "error", err)
				}
			}()
		}
		_ = sess.Run(watchCtx)
	} else {
		if err := sess.Start(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer sess.Close()
	}

	verdict, passErr := sess.Revalidate(ctx)
	id, strategy := resolver.ResolveWithStrategy(doc)
	res := checkResult{
		URL:       pageURL.String(),
		ProductID: string(id),
		Strategy:  strategy.String(),
		Gate:      sess.Gate().State().String(),
		Message:   sess.Gate().Message(),
		Verdict:   verdict,
		Cart:      reader.Snapshot(),
		Policies:  cache.Known().All(),
	}
	if passErr != nil {
		res.Error = passErr.Error()
	}
	if res.Policies == nil {
		res.Policies = []*limits.Policy{}
	}

	switch {
	case *renderOut:
		_, _ = fmt.Fprintln(stdout, doc.Render())
	case *jsonOut:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	default:
		printCheck(stdout, res)
	}

	if sess.Gate().State() == gate.Blocked {
		return 1
	}
	return 0
}

func fetchPage(ctx context.Context, client *resiliency.EnhancedClient, pageURL string) (*dom.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}
	return dom.Parse(io.LimitReader(resp.Body, maxPage), pageURL)
}

func printCheck(w io.Writer, res checkResult) {
	color := ColorGreen
	switch res.Gate {
	case gate.Blocked.String():
		color = ColorRed
	case gate.Pending.String():
		color = ColorYellow
	}
	_, _ = fmt.Fprintf(w, "\n%scartguard check%s %s\n", ColorBold+ColorBlue, ColorReset, res.URL)
	if res.ProductID != "" {
		_, _ = fmt.Fprintf(w, "  product   %s %s(%s)%s\n", res.ProductID, ColorGray, res.Strategy, ColorReset)
	} else {
		_, _ = fmt.Fprintf(w, "  product   %snone%s\n", ColorGray, ColorReset)
	}
	for _, l := range res.Cart {
		_, _ = fmt.Fprintf(w, "  cart      %s x%d %s(product total %d)%s\n", l.ProductID, l.Quantity, ColorGray, l.AggregateQuantity, ColorReset)
	}
	for _, p := range res.Policies {
		_, _ = fmt.Fprintf(w, "  limit     %s %s\n", p.ProductID, describeBounds(p))
	}
	_, _ = fmt.Fprintf(w, "  checkout  %s%s%s\n", color+ColorBold, res.Gate, ColorReset)
	if res.Message != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", res.Message)
	}
	if res.Error != "" {
		_, _ = fmt.Fprintf(w, "  %serror: %s%s\n", ColorGray, res.Error, ColorReset)
	}
}

func describeBounds(p *limits.Policy) string {
	var parts []string
	if p.Min != nil {
		parts = append(parts, fmt.Sprintf("min %d", *p.Min))
	}
	if p.Max != nil {
		parts = append(parts, fmt.Sprintf("max %d", *p.Max))
	}
	return strings.Join(parts, " ")
}
