package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/todoapi/api"
	"github.com/jmcleod/todoapi/auth"
	"github.com/jmcleod/todoapi/internal/config"
	"github.com/jmcleod/todoapi/internal/util"
	"github.com/jmcleod/todoapi/storage"
	"github.com/jmcleod/todoapi/todo"
	"github.com/jmcleod/todoapi/user"
)

var (
	port      int
	dataDir   string
	tlsCert   string
	tlsKey    string
	plainHTTP bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the todo API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger := cfg.NewLogger(os.Stderr)

		repo, closeStore, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				logger.Error("closing store", "error", err)
			}
		}()

		handler, closeAPI, err := newHandler(cfg, repo, logger)
		if err != nil {
			return err
		}
		defer closeAPI()

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if !plainHTTP {
			tlsConfig, err := loadTLSConfig()
			if err != nil {
				return err
			}
			server.TLSConfig = tlsConfig
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if plainHTTP {
				err = server.ListenAndServe()
			} else {
				err = server.ListenAndServeTLS("", "")
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("starting server",
			"port", cfg.Port,
			"store", cfg.StoreBackend,
			"tls", !plainHTTP,
		)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func loadTLSConfig() (*tls.Config, error) {
	var cert tls.Certificate
	if tlsCert != "" && tlsKey != "" {
		var err error
		cert, err = tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		var err error
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		fmt.Println("Using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// newHandler wires the services over repo and returns the root router and
// a func that flushes the API's background work.
func newHandler(cfg *config.Config, repo storage.Repository, logger *slog.Logger) (http.Handler, func(), error) {
	tokens, err := auth.NewTokenCodec([]byte(cfg.JWTSecret), auth.WithTokenTTL(cfg.SessionTTL))
	if err != nil {
		return nil, nil, fmt.Errorf("creating token codec: %w", err)
	}
	csrf, err := auth.NewCSRFProtector([]byte(cfg.CSRFSecret), auth.WithCSRFMaxAge(cfg.CSRFMaxAge))
	if err != nil {
		return nil, nil, fmt.Errorf("creating csrf protector: %w", err)
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert",
				"type", string(e.Type),
				"count", e.Count,
				"threshold", e.Threshold,
				"message", e.Message,
			)
		}),
	}
	if cfg.AuditWebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookHeader))
	}
	a := api.New(
		user.NewService(repo, auth.NewHasher(cfg.BcryptCost), tokens),
		todo.NewService(repo),
		auth.NewSessionManager(tokens, csrf),
		opts...,
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", csrf.HeaderName()},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.MessageResponse{Message: "Welcome to the todo API!"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api", a.Router())
	return r, a.Close, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8000, "Port to listen on (overrides PORT)")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the bbolt database (overrides DATA_DIR)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().BoolVar(&plainHTTP, "plain-http", false, "Serve plain HTTP, e.g. behind a TLS-terminating proxy")
}
