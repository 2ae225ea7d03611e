package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/platewise/platewise/internal/profile"
	"github.com/platewise/platewise/internal/version"
	"github.com/platewise/platewise/server"
	"github.com/platewise/platewise/store"
	"github.com/platewise/platewise/store/db/sqlite"
)

var (
	rootCmd = &cobra.Command{
		Use:   "platewise",
		Short: `Conversation engine for the platewise meal-planning dashboard. Runs assistant turns, dispatches diet tool calls and keeps sessions continuous.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := &profile.Profile{
				Mode:             viper.GetString("mode"),
				Addr:             viper.GetString("addr"),
				Port:             viper.GetInt("port"),
				Data:             viper.GetString("data"),
				DSN:              viper.GetString("dsn"),
				Secret:           viper.GetString("secret"),
				InstanceURL:      viper.GetString("instance-url"),
				BackendBaseURL:   viper.GetString("backend-url"),
				AssistantID:      viper.GetString("assistant-id"),
				GuestAssistantID: viper.GetString("guest-assistant-id"),
				Version:          version.GetCurrentVersion(viper.GetString("mode")),
			}
			instanceProfile.FromEnv()
			if err := instanceProfile.Validate(); err != nil {
				panic(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			dbDriver, err := sqlite.NewDriver(instanceProfile.DSN)
			if err != nil {
				cancel()
				slog.Error("failed to open session database", "dsn", instanceProfile.DSN, "error", err)
				return
			}

			storeInstance := store.New(dbDriver, func() int64 { return time.Now().Unix() })
			if err := storeInstance.Migrate(ctx); err != nil {
				cancel()
				slog.Error("failed to migrate", "error", err)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, terminationSignals...)

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			if err := s.Start(ctx); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					slog.Error("failed to start server", "error", err)
					cancel()
				}
			}

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("dsn", "", "session database path (aka. DSN)")
	rootCmd.PersistentFlags().String("secret", "", "secret used to verify dashboard bearer tokens")
	rootCmd.PersistentFlags().String("instance-url", "", "the url of your platewise instance")
	rootCmd.PersistentFlags().String("backend-url", "", "base url of the meal-planning backend")
	rootCmd.PersistentFlags().String("assistant-id", "", "assistant id for authenticated callers")
	rootCmd.PersistentFlags().String("guest-assistant-id", "", "assistant id for guest callers")

	for _, flag := range []string{
		"mode", "addr", "port", "data", "dsn", "secret",
		"instance-url", "backend-url", "assistant-id", "guest-assistant-id",
	} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("platewise")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Platewise assistant engine %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Session database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Backend: %s\n", profile.BackendBaseURL)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
