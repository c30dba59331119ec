package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/config"
)

// runDoctorCmd implements `cartguard doctor`: resolved configuration plus
// store and profile checks.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
func runDoctorCmd(stdout, stderr io.Writer) int {
	type checkResult struct {
		Name   string
		Status string // "ok", "warn", "fail"
		Detail string
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var results []checkResult
	allOK := true
	add := func(name, status, detail string) {
		if status == "fail" {
			allOK = false
		}
		results = append(results, checkResult{Name: name, Status: status, Detail: detail})
	}

	add("go_runtime", "ok", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))
	add("storefront", "ok", cfg.StorefrontURL)
	add("lookup_paths", "ok", strings.Join(cfg.LookupPaths, ", "))
	if cfg.Shop == "" {
		add("shop", "warn", "CARTGUARD_SHOP not set (lookups are sent without a shop)")
	} else {
		add("shop", "ok", cfg.Shop)
	}
	add("timing", "ok", fmt.Sprintf("settle=%s throttle=%s safety=%s poll=%s cache_ttl=%s",
		cfg.SettleDelay, cfg.Throttle, cfg.SafetyTimeout, cfg.PollInterval, cfg.CacheTTL))

	profile, err := loadProfile(cfg.ThemeProfile)
	if err != nil {
		add("theme_profile", "fail", err.Error())
	} else if _, err := profile.Matchers(); err != nil {
		add("theme_profile", "fail", err.Error())
	} else {
		add("theme_profile", "ok", profile.Name)
	}

	if _, closeStore, err := openSessionStore(ctx, cfg, "cartguard:doctor"); err != nil {
		add("session_store", "fail", err.Error())
	} else {
		closeStore()
		add("session_store", "ok", cfg.SessionStore)
	}

	if cfg.LimitsDatabaseURL == "" {
		add("limits_database", "warn", "LIMITS_DATABASE_URL not set (serve keeps limits in memory)")
	} else if _, _, closeLimits, err := openLimitStore(ctx, cfg, ""); err != nil {
		add("limits_database", "fail", err.Error())
	} else {
		closeLimits()
		add("limits_database", "ok", "connected")
	}

	if cfg.OTelEnabled {
		add("telemetry", "ok", cfg.OTelEndpoint)
	} else {
		add("telemetry", "warn", "disabled (set OTEL_ENABLED=true)")
	}

	_, _ = fmt.Fprintf(stdout, "\n%scartguard doctor%s\n", ColorBold+ColorBlue, ColorReset)
	for _, r := range results {
		icon := ColorGreen + "ok  " + ColorReset
		switch r.Status {
		case "warn":
			icon = ColorYellow + "warn" + ColorReset
		case "fail":
			icon = ColorRed + "FAIL" + ColorReset
		}
		_, _ = fmt.Fprintf(stdout, "  %s  %-16s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}

	if !allOK {
		_, _ = fmt.Fprintln(stderr, "one or more checks failed")
		return 1
	}
	return 0
}
