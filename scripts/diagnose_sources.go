// Command diagnose_sources probes every configured article source once and
// prints a report. Useful when the reconciled set looks stale and the
// question is which upstream stopped producing.
//
// Usage: go run scripts/diagnose_sources.go [-config config.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"marketfeed/internal/config"
	"marketfeed/internal/domain/entity"
	"marketfeed/internal/infra/feedapi"
	"marketfeed/internal/infra/scraper"
	"marketfeed/internal/observability/logging"
)

// SourceDiagnostic is the probe result for one source.
type SourceDiagnostic struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"` // "api", "rss", "scrape"
	Target       string `json:"target"`
	Status       string `json:"status"` // "OK", "ERROR", "EMPTY"
	ItemCount    int    `json:"item_count"`
	LatestDate   string `json:"latest_date,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ResponseTime int64  `json:"response_time_ms"`
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	jsonOut := flag.Bool("json", false, "emit the report as JSON")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.NewTextLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := &http.Client{Timeout: 30 * time.Second}
	var diagnostics []SourceDiagnostic

	api := feedapi.NewClient(cfg.FeedAPIBaseURL, client, logger)
	diagnostics = append(diagnostics, probe("feed-api", "api", cfg.FeedAPIBaseURL, func() ([]entity.RawArticle, error) {
		return api.FetchArticles(ctx, false)
	}))

	for _, f := range cfg.RSSFeeds {
		src := scraper.NewRSSSource(f.Name, f.URL, client, logger)
		diagnostics = append(diagnostics, probe(f.Name, "rss", f.URL, func() ([]entity.RawArticle, error) {
			return src.Fetch(ctx)
		}))
		// Be nice to feed servers.
		time.Sleep(500 * time.Millisecond)
	}

	if cfg.EnableTradingEconomics {
		src := scraper.NewTradingEconomicsSource(cfg.TradingEconomicsURL, client, logger)
		diagnostics = append(diagnostics, probe(src.Name(), "scrape", cfg.TradingEconomicsURL, func() ([]entity.RawArticle, error) {
			return src.Fetch(ctx)
		}))
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diagnostics); err != nil {
			log.Fatalf("failed to encode report: %v", err)
		}
		return
	}
	printReport(diagnostics)

	for _, d := range diagnostics {
		if d.Status == "ERROR" {
			os.Exit(1)
		}
	}
}

func probe(name, kind, target string, fetch func() ([]entity.RawArticle, error)) SourceDiagnostic {
	diag := SourceDiagnostic{Name: name, Kind: kind, Target: target}

	start := time.Now()
	articles, err := fetch()
	diag.ResponseTime = time.Since(start).Milliseconds()

	if err != nil {
		diag.Status = "ERROR"
		diag.ErrorMessage = err.Error()
		return diag
	}

	diag.ItemCount = len(articles)
	if len(articles) == 0 {
		diag.Status = "EMPTY"
		return diag
	}
	diag.Status = "OK"

	dates := make([]string, 0, len(articles))
	for _, a := range articles {
		if a.PublishedAt != "" {
			dates = append(dates, a.PublishedAt)
		}
	}
	if len(dates) > 0 {
		sort.Strings(dates)
		diag.LatestDate = dates[len(dates)-1]
	}
	return diag
}

func printReport(diagnostics []SourceDiagnostic) {
	fmt.Println()
	fmt.Println("SOURCE DIAGNOSTIC REPORT")
	fmt.Println("========================")

	counts := map[string]int{}
	for _, d := range diagnostics {
		counts[d.Status]++
	}
	fmt.Printf("sources: %d  ok: %d  empty: %d  error: %d\n\n",
		len(diagnostics), counts["OK"], counts["EMPTY"], counts["ERROR"])

	for _, d := range diagnostics {
		fmt.Printf("[%s] %s (%s)\n", d.Status, d.Name, d.Kind)
		fmt.Printf("  target: %s\n", d.Target)
		fmt.Printf("  items: %d  response: %dms\n", d.ItemCount, d.ResponseTime)
		if d.LatestDate != "" {
			fmt.Printf("  latest: %s\n", d.LatestDate)
		}
		if d.ErrorMessage != "" {
			fmt.Printf("  error: %s\n", d.ErrorMessage)
		}
		fmt.Println()
	}
}
