/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"horizon/internal/classifier"
	"horizon/internal/config"
	"horizon/internal/core"
	"horizon/internal/embed"
	"horizon/internal/logger"
	"horizon/internal/pipeline"
	"horizon/internal/recommend"
	"horizon/internal/scheduler"
	"horizon/internal/store"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "horizon",
	Short: "Horizon aggregates browsing engagement and classifies it by topic.",
	Long: `Horizon records engagement events into daily buckets, classifies post
titles into topics with an embedding-backed linear classifier, and generates
a daily reading recommendation from the previous day's activity.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.horizon.yaml)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Configuration error:", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.App.LogLevel)
	if cfg.App.Debug {
		logger.SetLevel("debug")
	}
}

// app bundles the wired engine with the resources it owns.
type app struct {
	engine *pipeline.Engine
	db     *store.Store
	sched  *scheduler.Scheduler
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// buildApp wires config -> store -> provider -> classifier -> backends ->
// scheduler -> engine. Missing API keys degrade the corresponding capability
// instead of failing startup: no Gemini key means no classification, no
// usable backend means no recommendation generation.
func buildApp(ctx context.Context) (*app, error) {
	cfg := config.Get()

	db, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var provider embed.Provider
	if cfg.AI.Gemini.APIKey != "" {
		p, err := embed.NewGeminiProvider(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.EmbeddingModel, cfg.AI.Gemini.EmbeddingDims)
		if err != nil {
			logger.Warn("Embedding provider unavailable, classification disabled", "error", err.Error())
		} else {
			provider = p
		}
	} else {
		logger.Warn("No Gemini API key configured, classification disabled")
	}

	cls := classifier.New(cfg.Classifier.WeightsPath)

	primary := buildBackend(ctx, cfg, cfg.Recommender.Primary)
	fallback := buildBackend(ctx, cfg, cfg.Recommender.Fallback)
	if primary == nil && fallback != nil {
		primary, fallback = fallback, nil
	}

	var sched *scheduler.Scheduler
	if primary != nil {
		sched = scheduler.New(db, primary, fallback)
	} else {
		logger.Warn("No recommendation backend configured, generation disabled")
	}

	return &app{
		engine: pipeline.New(db, provider, cls, sched),
		db:     db,
		sched:  sched,
	}, nil
}

// buildBackend constructs the named recommendation backend, or nil when the
// name is empty or its API key is missing.
func buildBackend(ctx context.Context, cfg *config.Config, name string) recommend.Backend {
	switch name {
	case "gemini":
		if cfg.AI.Gemini.APIKey == "" {
			return nil
		}
		backend, err := recommend.NewGeminiBackend(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model)
		if err != nil {
			logger.Warn("Gemini backend unavailable", "error", err.Error())
			return nil
		}
		return backend
	case "openai":
		if cfg.AI.OpenAI.APIKey == "" {
			return nil
		}
		backend, err := recommend.NewOpenAIBackend(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.Model)
		if err != nil {
			logger.Warn("OpenAI backend unavailable", "error", err.Error())
			return nil
		}
		return backend
	default:
		return nil
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to encode output:", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record an engagement event into today's bucket",
	Long: `Fold one engagement event into today's bucket. When no topic is given
and the title is substantial, the event is classified before folding.

Example:
  horizon record --domain news.ycombinator.com --type post --delta-ms 4500 --title "Show HN: A tiny Go profiler"`,
	Run: func(cmd *cobra.Command, args []string) {
		domain, _ := cmd.Flags().GetString("domain")
		contentType, _ := cmd.Flags().GetString("type")
		topic, _ := cmd.Flags().GetString("topic")
		title, _ := cmd.Flags().GetString("title")
		deltaMs, _ := cmd.Flags().GetInt64("delta-ms")

		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			logger.Error("Failed to initialize", err)
			os.Exit(1)
		}
		defer a.Close()

		bucket := a.engine.RecordEngagement(ctx, core.EngagementEvent{
			Domain:      domain,
			ContentType: contentType,
			Topic:       topic,
			Title:       title,
			DeltaMs:     deltaMs,
		})
		printJSON(bucket)
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Classify a text snippet into a topic",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			logger.Error("Failed to initialize", err)
			os.Exit(1)
		}
		defer a.Close()

		printJSON(a.engine.Classify(ctx, args[0]))
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary [day]",
	Short: "Show the engagement bucket for a day (default: today)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp(cmd.Context())
		if err != nil {
			logger.Error("Failed to initialize", err)
			os.Exit(1)
		}
		defer a.Close()

		if len(args) == 1 {
			if _, err := time.Parse(core.DayFormat, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid day %q, expected YYYY-MM-DD\n", args[0])
				os.Exit(1)
			}
			printJSON(a.engine.GetSummary(args[0]))
			return
		}
		printJSON(a.engine.GetTodaySummary())
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Show the current daily recommendation",
	Long: `Show the most recent recommendation record, including the bucket
snapshot it was generated from. With --check, run a scheduler check first so
a missed day rollover is processed before reading.`,
	Run: func(cmd *cobra.Command, args []string) {
		check, _ := cmd.Flags().GetBool("check")

		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			logger.Error("Failed to initialize", err)
			os.Exit(1)
		}
		defer a.Close()

		if check {
			if a.sched == nil {
				fmt.Fprintln(os.Stderr, "No recommendation backend configured; set GEMINI_API_KEY or OPENAI_API_KEY")
				os.Exit(1)
			}
			a.engine.CheckAndMaybeGenerateRecommendations(ctx)
		}

		rec := a.engine.GetPreviousDaySummary()
		if rec == nil {
			fmt.Println("No recommendation generated yet.")
			return
		}
		printJSON(rec)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the day rollover scheduler until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			logger.Error("Failed to initialize", err)
			os.Exit(1)
		}
		defer a.Close()

		if a.sched == nil {
			fmt.Fprintln(os.Stderr, "No recommendation backend configured; set GEMINI_API_KEY or OPENAI_API_KEY")
			os.Exit(1)
		}

		interval := config.GetScheduler().Interval()
		fmt.Printf("Watching for day rollover every %s. Press Ctrl+C to stop.\n", interval)
		a.sched.Run(ctx, interval)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := buildApp(cmd.Context())
		if err != nil {
			logger.Error("Failed to initialize", err)
			os.Exit(1)
		}
		defer a.Close()

		stats, err := a.db.GetStats()
		if err != nil {
			logger.Error("Failed to read stats", err)
			os.Exit(1)
		}

		fmt.Printf("Buckets:         %d\n", stats.BucketCount)
		fmt.Printf("Recommendations: %d\n", stats.RecommendationCount)
		fmt.Printf("Store size:      %d bytes\n", stats.StoreSize)
		if !stats.LastUpdated.IsZero() {
			fmt.Printf("Last updated:    %s\n", stats.LastUpdated.Format(time.RFC3339))
		}
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all persisted buckets, recommendations, and cache state",
	Run: func(cmd *cobra.Command, args []string) {
		confirm, _ := cmd.Flags().GetBool("yes")
		if !confirm {
			fmt.Fprintln(os.Stderr, "Refusing to clear without --yes")
			os.Exit(1)
		}

		a, err := buildApp(cmd.Context())
		if err != nil {
			logger.Error("Failed to initialize", err)
			os.Exit(1)
		}
		defer a.Close()

		if err := a.db.Clear(); err != nil {
			logger.Error("Failed to clear store", err)
			os.Exit(1)
		}
		fmt.Println("Store cleared.")
	},
}

func init() {
	recordCmd.Flags().String("domain", "", "Domain the engagement happened on")
	recordCmd.Flags().String("type", "", "Content type (post, comments, other)")
	recordCmd.Flags().String("topic", "", "Topic label (skips classification when set)")
	recordCmd.Flags().String("title", "", "Post title to classify")
	recordCmd.Flags().Int64("delta-ms", 0, "Engagement time delta in milliseconds")
	recordCmd.MarkFlagRequired("domain")
	recordCmd.MarkFlagRequired("delta-ms")

	recommendCmd.Flags().Bool("check", false, "Run a scheduler check before reading")
	clearCmd.Flags().Bool("yes", false, "Confirm deletion")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
}
