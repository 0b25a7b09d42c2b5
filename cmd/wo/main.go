package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"workorders/internal/app"
	"workorders/internal/config"
	"workorders/internal/db"
	"workorders/internal/logging"
	"workorders/internal/migrate"
	"workorders/internal/repo"
	"workorders/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wo",
	Short: "Work order service",
	Long: `wo runs the multi-tenant work order service and manages its data.
- Organizations own their work orders; numbers (org_seq) run 1, 2, 3... per organization.
- Orders move Created -> Assigned -> Started -> InReview -> Done; a rejection sends them back to Assigned.
- Assignment can happen at any time and notifies the new assignee in app, by push and by email.
- Configuration lives in workorders.yml; WO_* environment variables and .env override it.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("WO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "cli", "actor recorded on changes")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(branchCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, websocket hub and webhook relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cfg.Server.JWTSecret == "" && !cfg.Server.AllowDevHeaders {
					return fmt.Errorf("server.jwt_secret (WO_SERVER_JWT_SECRET) is required unless server.allow_dev_headers is set")
				}
				if cfg.Server.AllowDevHeaders {
					a.Log.Warn("dev headers and dev login are enabled; do not use in production")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Policy:   a.Auth,
					BasePath: cfg.Server.BasePath,
					Auth: server.AuthConfig{
						JWTSecret:       cfg.Server.JWTSecret,
						AllowDevHeaders: cfg.Server.AllowDevHeaders,
						Logger:          a.Log,
					},
					Hub:            a.Hub,
					Metrics:        a.Metrics.Handler(),
					Files:          a.Files.Handler(),
					MaxUploadBytes: cfg.Storage.MaxBytes,
					Log:            a.Log,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, repo.Repo{DB: a.DB}, cfg.Webhooks, a.Log)

				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving work order API",
					zap.String("addr", cfg.Server.Addr),
					zap.String("base_path", cfg.Server.BasePath),
					zap.String("sequence_backend", cfg.Sequence.Backend))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (%s)\n", version, cfg.Database.Path)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("config ok: sequence=%s database=%s webhooks=%d\n", cfg.Sequence.Backend, cfg.Database.Path, len(cfg.Webhooks))
			return nil
		},
	})
	return cfgCmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config"), viper.GetViper())
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrValue(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
