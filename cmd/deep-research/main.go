package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/export"
)

var (
	topic       string
	rounds      int
	results     int
	concurrency int
	outputDir   string
	formats     []string
	quiet       bool
)

func main() {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long:  `deep-research searches the web over several rounds, reads the pages it finds, follows up on the gaps it discovers and writes a cited Markdown report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup structured logging
			level := cfg.SlogLevel()
			if quiet {
				level = slog.LevelWarn
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			if len(args) > 0 && !cmd.Flags().Changed("topic") {
				topic = strings.Join(args, " ")
			}
			if strings.TrimSpace(topic) == "" {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research topic: ")
				input, _ := reader.ReadString('\n')
				topic = strings.TrimSpace(input)
				if topic == "" {
					return fmt.Errorf("topic cannot be empty")
				}
			}

			// Flags override environment values
			if cmd.Flags().Changed("rounds") {
				cfg.MaxRounds = rounds
			}
			if cmd.Flags().Changed("results") {
				cfg.ResultsPerSearch = results
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.MaxConcurrency = concurrency
			}
			if cmd.Flags().Changed("output") {
				cfg.OutputDir = outputDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			components, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("error initializing research pipeline: %w", err)
			}
			orchestrator := components.Orchestrator(cfg.ResearchOptions(), logger)

			logger.Info("Starting research", "topic", topic, "max_rounds", cfg.MaxRounds)
			result, err := orchestrator.ConductResearch(ctx, topic, cfg.MaxRounds, newProgressPrinter(os.Stdout))
			if err != nil {
				return fmt.Errorf("research failed: %w", err)
			}

			paths, err := export.Save(cfg.OutputDir, result, formats...)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Println()
			fmt.Println(result.FinalReport)
			fmt.Println()
			fmt.Printf("%s %d rounds, %d sources\n", green("Research complete:"), result.TotalRounds, len(result.Sources))
			for _, p := range paths {
				fmt.Printf("  saved %s\n", p)
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().IntVarP(&rounds, "rounds", "r", cfg.MaxRounds, "Maximum number of research rounds")
	rootCmd.Flags().IntVarP(&results, "results", "n", cfg.ResultsPerSearch, "Search results per query")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", cfg.MaxConcurrency, "Maximum concurrent searches and fetches")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", cfg.OutputDir, "Directory for exported reports")
	rootCmd.Flags().StringSliceVarP(&formats, "format", "f", []string{export.FormatMarkdown}, "Export formats: markdown, html, json")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
