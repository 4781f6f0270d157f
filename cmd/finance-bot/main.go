package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/api/option"

	"github.com/zombor/finance-bot/internal/bot"
	"github.com/zombor/finance-bot/internal/ledger"
	"github.com/zombor/finance-bot/internal/parsing"
	"github.com/zombor/finance-bot/internal/retry"
	"github.com/zombor/finance-bot/internal/scanning"
	"github.com/zombor/finance-bot/internal/server"
	"github.com/zombor/finance-bot/internal/session"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; real environment variables still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("finance-bot")
	var (
		port              = fs.IntLong("port", 8080, "HTTP server port")
		dbPath            = fs.StringLong("db", "finance-bot.db", "Local database file path (ledger or sync outbox)")
		storagePath       = fs.StringLong("storage", "./receipts", "Receipt photo storage directory")
		scannerType       = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'none'")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		spreadsheetID     = fs.StringLong("spreadsheet-id", "", "Google Sheets spreadsheet ID (empty keeps the ledger local)")
		sheetsCredentials = fs.StringLong("sheets-credentials", "", "Service account JSON file for Google Sheets")
		sheetName         = fs.StringLong("sheet-name", "Transactions", "Sheet (tab) holding the ledger")
		authorizedUsers   = fs.StringLong("authorized-users", "", "Comma-separated user IDs allowed to use the bot (empty allows everyone)")
		authUser          = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		maxAttempts       = fs.IntLong("max-attempts", 3, "Attempts per receipt extraction before falling back to the caption")
		baseDelay         = fs.DurationLong("base-delay", 2*time.Second, "Backoff after the first rate-limited attempt")
		sessionIdle       = fs.DurationLong("session-idle", session.DefaultIdleTimeout, "Idle time after which an open receipt is cancelled")
		syncInterval      = fs.DurationLong("sync-interval", 30*time.Second, "How often queued transactions are pushed to the spreadsheet")
		vocabularyPath    = fs.StringLong("vocabulary", "", "TOML file overriding units, keywords and categories")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FINANCE_BOT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	allowed, err := parseUserIDs(*authorizedUsers)
	if err != nil {
		slog.Error("Invalid authorized users", "error", err)
		os.Exit(1)
	}

	vocab := parsing.DefaultVocabulary()
	if *vocabularyPath != "" {
		vocab, err = parsing.LoadVocabulary(*vocabularyPath)
		if err != nil {
			slog.Error("Failed to load vocabulary", "path", *vocabularyPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded vocabulary", "path", *vocabularyPath, "categories", len(vocab.Categories))
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := ledger.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize ledger store: Sheets with a local outbox, or the local database alone
	var (
		store    ledger.Store = db
		sheetURL string
	)
	if *spreadsheetID != "" {
		var opts []option.ClientOption
		if *sheetsCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(*sheetsCredentials))
		}
		sheets, err := ledger.NewSheetsStore(ctx, *spreadsheetID, *sheetName, opts...)
		if err != nil {
			slog.Error("Failed to initialize Google Sheets", "error", err)
			os.Exit(1)
		}
		if err := sheets.Ping(ctx); err != nil {
			slog.Warn("Google Sheets is unreachable, transactions will queue locally", "error", err)
		}
		syncing := ledger.NewSyncingStore(sheets, db)
		go syncing.Run(ctx, *syncInterval)

		store = syncing
		sheetURL = sheets.Link()
		slog.Info("Using Google Sheets ledger", "sheet", *sheetName, "pending", syncing.PendingCount())
	} else {
		slog.Info("No spreadsheet configured, keeping the ledger in the local database")
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "none":
		slog.Info("No receipt scanner, photos are read from their captions")
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama or none")
		os.Exit(1)
	}
	if scanner != nil {
		defer scanner.Close()
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	photos, err := bot.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = *maxAttempts
	policy.BaseDelay = *baseDelay

	extractor := parsing.NewExtractor(vocab)
	pipeline := scanning.NewPipeline(scanner, extractor, policy)
	sessions := session.NewMachine(*sessionIdle)

	service := bot.NewService(store, pipeline, extractor, sessions, photos, bot.Config{
		AuthorizedUsers: allowed,
		SheetURL:        sheetURL,
	})
	go service.RunSweeper(ctx, time.Minute)

	// Initialize server
	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           server.NewServer(service, basicAuth).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", srv.Addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}
	if len(allowed) > 0 {
		slog.Info("Restricted to authorized users", "count", len(allowed))
	}

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}

// parseUserIDs reads a comma-separated list of numeric user IDs
func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
