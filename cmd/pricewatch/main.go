package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"pricewatch/internal/batch"
	"pricewatch/internal/browser"
	"pricewatch/internal/config"
	"pricewatch/internal/extract"
	"pricewatch/internal/fetch"
	"pricewatch/internal/metrics"
	"pricewatch/internal/migrate"
	"pricewatch/internal/proxy"
	"pricewatch/internal/status"
	"pricewatch/internal/store"
	"pricewatch/internal/sysmon"
	"pricewatch/internal/variations"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	urlsPath := flag.String("urls", "", "file with one product URL per line")
	engine := flag.String("engine", "http", "fetch engine: http|browser")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	cfg := config.Load(*configPath)

	urls, err := readURLs(*urlsPath)
	if err != nil {
		log.Fatalf("read urls failed: %v", err)
	}
	if len(urls) == 0 {
		log.Fatalf("no URLs to process (pass -urls)")
	}

	// Persistence: postgres when configured, in-process otherwise.
	var db *sql.DB
	var st store.Store
	if cfg.Database.DSN != "" {
		if err := migrate.Run(cfg.Database.DSN); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		db, err = sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db failed: %v", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		st = store.NewPostgres(db)
	} else {
		slog.Warn("no database configured, keeping results in memory")
		st = store.NewMemory()
	}
	defer st.Close()

	m := metrics.New()

	monitor := sysmon.NewMonitor()
	monitor.Start(5 * time.Second)
	defer monitor.Stop()

	rotator := proxy.NewRotator(cfg.HTTP.Proxies, cfg.HTTP.UserAgents, time.Now().UnixNano())
	breaker := fetch.NewBreaker(5, time.Minute, m)

	pool := browser.NewPool(cfg.Pool)
	defer pool.Close()

	memory := extract.NewSelectorMemory(cfg.Redis.URL)
	defer memory.Close()

	render := fetch.NewRenderClient(cfg.Render, cfg.Extractor.CacheSize)
	extractor := extract.NewProductExtractor(
		cfg.Extractor, cfg.Selectors, memory, pool, render, variations.NewRegistry(), m)

	var fetcher fetch.Fetcher
	switch *engine {
	case "http":
		fetcher = fetch.NewHTTPFetcher(cfg.HTTP, rotator, monitor, breaker, m)
	case "browser":
		fetcher = fetch.NewBrowserFetcher(pool, cfg.Pool, rotator, breaker, m)
	default:
		log.Fatalf("invalid engine: %s (expected http|browser)", *engine)
	}

	// Optional status listener with health and metrics.
	var srv *status.Server
	if cfg.Status.Addr != "" {
		var rdb *redis.Client
		if cfg.Redis.URL != "" {
			if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
				rdb = redis.NewClient(opt)
			}
		}
		srv = status.NewServer(cfg.Status.Addr, m, status.Deps{DB: db, RDB: rdb, Pool: pool}, logger)
		go func() {
			if err := srv.Listen(); err != nil {
				slog.Error("status server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc := batch.NewProcessor(cfg.Batch, fetcher, extractor, st, monitor, m)
	summary, err := proc.ProcessURLBatches(ctx, urls)
	if err != nil {
		log.Fatalf("batch run failed: %v", err)
	}

	fmt.Printf("run %s: %d products, %d variations, %d failed, %d batches\n",
		summary.RunID, summary.ScrapedProducts, summary.Variations,
		len(summary.FailedURLs), summary.BatchesCompleted)
	for _, u := range summary.FailedURLs {
		fmt.Printf("failed: %s\n", u)
	}

	if srv != nil {
		if err := srv.Shutdown(); err != nil {
			slog.Warn("status server shutdown failed", "error", err)
		}
	}
}

func readURLs(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
