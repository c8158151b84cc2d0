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
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prochat/prochat/ai/llm"
	"github.com/prochat/prochat/ai/metrics"
	"github.com/prochat/prochat/ai/orchestrator"
	"github.com/prochat/prochat/ai/stream"
	"github.com/prochat/prochat/ai/titlegen"
	"github.com/prochat/prochat/ai/tools"
	"github.com/prochat/prochat/ai/trace"
	"github.com/prochat/prochat/internal/profile"
	"github.com/prochat/prochat/internal/version"
	"github.com/prochat/prochat/server"
	"github.com/prochat/prochat/store"
	"github.com/prochat/prochat/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "prochat",
	Short: "A resumable streaming chat backend with tool-augmented generation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Best effort; deployments configure through real env vars.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid profile", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}
		if err := seedDefaultChatModel(ctx, storeInstance, instanceProfile); err != nil {
			slog.Error("failed to seed chat model", "error", err)
			return
		}

		if !instanceProfile.IsLLMEnabled() {
			slog.Error("no LLM provider configured, set PROCHAT_LLM_API_KEY or use the ollama provider")
			return
		}
		llmService, err := llm.NewService(&llm.Config{
			Provider: instanceProfile.LLMProvider,
			Model:    instanceProfile.LLMModel,
			APIKey:   instanceProfile.LLMAPIKey,
			BaseURL:  instanceProfile.LLMBaseURL,
			Timeout:  instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Error("failed to create llm service", "error", err)
			return
		}

		var titler orchestrator.Titler
		if instanceProfile.LLMAPIKey != "" {
			titler = titlegen.NewGenerator(titlegen.Config{
				APIKey:  instanceProfile.LLMAPIKey,
				BaseURL: instanceProfile.LLMBaseURL,
				Model:   instanceProfile.TitleModel,
			})
		}

		policy := tracePolicy(instanceProfile)
		registry := buildToolRegistry(instanceProfile)
		exporter := metrics.NewExporter(metrics.DefaultConfig())

		tracker := stream.NewTracker(storeInstance, stream.Options{})
		reaper := stream.NewReaper(tracker, storeInstance, stream.DefaultReapInterval, policy.RetentionDays)
		reaper.Start()

		orch := orchestrator.New(orchestrator.Options{
			Store:             storeInstance,
			LLM:               llmService,
			Tracker:           tracker,
			Registry:          registry,
			Titler:            titler,
			Exporter:          exporter,
			Policy:            policy,
			MaxToolIterations: instanceProfile.MaxToolIterations,
			MemoryDir:         instanceProfile.MemoryDir(),
		})

		s := server.NewServer(instanceProfile, orch, exporter)

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-c
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			s.Shutdown(shutdownCtx)
			reaper.Stop()
			cancel()
		}()

		printGreetings(instanceProfile)
		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			cancel()
		}

		<-ctx.Done()
	},
}

// seedDefaultChatModel inserts the profile's default model on an empty
// models table so fresh installs can chat immediately. Rates default to
// zero until operators configure real pricing.
func seedDefaultChatModel(ctx context.Context, s *store.Store, p *profile.Profile) error {
	models, err := s.ListChatModels(ctx, &store.FindChatModel{})
	if err != nil {
		return err
	}
	if len(models) > 0 {
		return nil
	}
	_, err = s.UpsertChatModel(ctx, &store.ChatModel{
		ID:          p.LLMModel,
		DisplayName: p.LLMModel,
		Provider:    p.LLMProvider,
		Model:       p.LLMModel,
		Enabled:     true,
	})
	if err == nil {
		slog.Info("seeded default chat model", "model", p.LLMModel, "provider", p.LLMProvider)
	}
	return err
}

// tracePolicy applies profile overrides to the default accumulation
// bounds. 0 keeps the default; -1 collapses the collection entirely.
func tracePolicy(p *profile.Profile) trace.Policy {
	policy := trace.DefaultPolicy()
	policy.MaxEvents = overrideBound(policy.MaxEvents, p.TraceMaxEvents)
	policy.MaxChars = overrideBound(policy.MaxChars, p.TraceMaxChars)
	policy.MaxSources = overrideBound(policy.MaxSources, p.TraceMaxSources)
	policy.RetentionDays = overrideBound(policy.RetentionDays, p.TraceRetentionDays)
	return policy
}

func overrideBound(current, override int) int {
	switch {
	case override == 0:
		return current
	case override < 0:
		return 0
	default:
		return override
	}
}

// buildToolRegistry registers every tool whose backend is configured.
// The memory tools only need the data directory, so they are always on.
func buildToolRegistry(p *profile.Profile) *tools.Registry {
	registry := tools.NewRegistry()

	if p.SearchBaseURL != "" {
		registry.Register(tools.NewSearchTool(p.SearchBaseURL))
		slog.Info("search tool enabled", "base_url", p.SearchBaseURL)
	}
	registry.Register(tools.NewWebFetchTool())
	if p.SandboxURL != "" {
		registry.Register(tools.NewCodeExecTool(p.SandboxURL))
		slog.Info("code execution tool enabled", "sandbox_url", p.SandboxURL)
	}
	registry.Register(tools.NewMemoryReadTool(p.MemoryDir()))
	registry.Register(tools.NewMemoryWriteTool(p.MemoryDir()))

	return registry
}

func printGreetings(p *profile.Profile) {
	fmt.Printf(`---
prochat %s
mode:   %s
driver: %s
data:   %s
listen: %s:%d
---
`, p.Version, p.Mode, p.Driver, p.Data, p.Addr, p.Port)
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28085)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28085, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("prochat")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to run command", "error", err)
		os.Exit(1)
	}
}
