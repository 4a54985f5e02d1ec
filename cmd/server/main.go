package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"treatment-journey/internal/agent"
	"treatment-journey/internal/config"
	"treatment-journey/internal/consultation"
	"treatment-journey/internal/observability"
	"treatment-journey/internal/platform/telegram"
	"treatment-journey/internal/report"
	"treatment-journey/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "journey-server",
	Short: "Conversational assistant that turns treatment conversations into structured journeys.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env is fine
		_ = godotenv.Load()
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.Int("port", 8080, "HTTP port")
	flags.String("llm-provider", "gemini", `text generation backend: "gemini", "openai" or "deepseek"`)
	flags.String("storage-driver", "memory", `journey storage: "memory", "postgres" or "sqlite"`)
	flags.String("completeness-mode", "any", `when to build a journey: "any" or "all" fact categories present`)
	flags.String("log-level", "info", "log level")

	for key, flag := range map[string]string{
		"config":                    "config",
		"server.port":               "port",
		"llm.provider":              "llm-provider",
		"storage.driver":            "storage-driver",
		"journey.completeness_mode": "completeness-mode",
		"log.level":                 "log-level",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.Log)

	// 1. Storage
	repo := consultation.NewMemoryRepository()
	if cfg.Storage.Driver != "memory" {
		db, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := storage.Migrate(db, cfg.Storage.Driver); err != nil {
			return err
		}
		log.Info().Str("driver", cfg.Storage.Driver).Msg("migrations applied")
		repo = storage.NewJourneyRepository(db)
	}

	// 2. Clients
	gen, err := agent.NewGenerator(ctx, agent.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
	}, log)
	if err != nil {
		return err
	}

	var sender report.Sender
	if cfg.Report.TelegramToken != "" {
		tg, err := telegram.NewClient(cfg.Report.TelegramToken)
		if err != nil {
			return err
		}
		sender = tg
	} else {
		log.Warn().Msg("report.telegram_token is not set, care-team reports are disabled")
	}
	reportSvc := report.NewService(sender, cfg.Report.ChatID, cfg.Report.FontPath, log)

	// 3. Services
	metrics := observability.NewMetricsSink(nil)
	opts := consultation.Options{
		CompletenessMode:     cfg.CompletenessMode(),
		EmergencyNumber:      cfg.Emergency.Number,
		SeedJourneyFromFacts: cfg.Journey.SeedFromFacts,
		SessionTTL:           cfg.Journey.SessionTTL,
		Events:               observability.Multi{observability.NewLogSink(log), metrics},
	}
	if sender != nil {
		opts.Reporter = reportSvc
	}
	if cfg.Voice.Enabled {
		opts.Transcriber = agent.NewWhisperTranscriber(cfg.Voice.APIKey, cfg.Voice.Model, "", log)
	}
	svc := consultation.NewService(repo, gen, opts)
	defer svc.Close()

	handler := consultation.NewHandler(svc, reportSvc, cfg.LLM.Timeout, log)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	consultation.RegisterRoutes(r, handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("provider", cfg.LLM.Provider).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stderr)
	if cfg.Format == "console" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	return out.Level(level).With().Timestamp().Str("app", "treatment-journey").Logger()
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch origin := r.Header.Get("Origin"); {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Session-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID")
			if r.Method == http.MethodOptions {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
