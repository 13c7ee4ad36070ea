package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/config"
	"github.com/MimeLyc/subtitle-pipeline/internal/llm"
	"github.com/MimeLyc/subtitle-pipeline/internal/memory"
	"github.com/MimeLyc/subtitle-pipeline/internal/persistence"
	"github.com/MimeLyc/subtitle-pipeline/internal/pipeline"
	"github.com/MimeLyc/subtitle-pipeline/internal/service"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/pkg/file"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

func main() {
	// .env is optional; real deployments use environment variables.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "translate":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		if err := runTranslate(ctx, *cfg, os.Args[2]); err != nil {
			log.Fatal("%v", err)
		}
	case "watch":
		if err := runWatch(ctx, *cfg); err != nil {
			log.Fatal("%v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s translate <subtitle-file> | watch\n", os.Args[0])
}

// buildPipeline assembles the shared collaborators. The returned cache
// is nil when the translation memory is disabled.
func buildPipeline(cfg config.Config) (*pipeline.Pipeline, *subtitle.Codec, *memory.Cache, error) {
	client, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		SiteURL:     cfg.LLM.SiteURL,
		AppName:     cfg.LLM.AppName,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	var cache *memory.Cache
	if cfg.Memory.Enabled() {
		store, err := persistence.NewSQLiteStore(cfg.Memory.DBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open translation memory: %w", err)
		}
		cache = memory.NewCache(store)
	}

	codec := subtitle.NewCodec()
	return pipeline.New(codec, codec, client, cache), codec, cache, nil
}

func runTranslate(ctx context.Context, cfg config.Config, path string) error {
	p, codec, cache, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Wait()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read subtitle file: %w", err)
	}

	sourceLang := cfg.Translate.SourceLanguage
	if sourceLang == language.Und {
		if doc, parseErr := codec.Parse(string(raw)); parseErr == nil {
			sourceLang = subtitle.DetectLanguage(doc)
			log.Info("Detected source language: %s", sourceLang)
		}
	}

	res := p.Translate(ctx, string(raw), pipeline.Options{
		Provider:         cfg.LLM.Provider,
		Model:            cfg.LLM.Model,
		SourceLang:       sourceLang,
		TargetLang:       cfg.Translate.TargetLanguage,
		BatchCount:       cfg.Translate.BatchCount,
		BatchConcurrency: cfg.Translate.BatchConcurrency,
		Scope:            memory.ScopeForFile(path),
		OnProgress: func(percent float64) {
			log.Info("Progress: %.0f%%", percent)
		},
	})
	if res.Cancelled {
		return fmt.Errorf("translation cancelled")
	}
	if res.Err != nil {
		return res.Err
	}

	output := file.SiblingWithLang(path, cfg.Translate.TargetLanguage.String())
	if err := os.WriteFile(output, []byte(res.Content), 0o644); err != nil {
		return fmt.Errorf("failed to write translated file: %w", err)
	}
	log.Info("Wrote %s (tokens: %d)", output, res.Usage.TotalTokens)
	for _, warning := range res.Warnings {
		log.Warn("%s", warning)
	}
	return nil
}

func runWatch(ctx context.Context, cfg config.Config) error {
	p, _, cache, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Wait()
	}

	c := cron.New()
	svc := service.NewWatchService(cfg, p, c)
	if err := svc.Schedule(ctx); err != nil {
		return fmt.Errorf("failed to schedule watch: %w", err)
	}

	c.Start()
	defer c.Stop()

	// Scan once at startup, then follow the cron schedule.
	svc.RunOnce(ctx)

	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}
