// Package service runs the scheduled library watch: it scans the
// configured directories for recently changed subtitle files that have
// no target-language sibling yet and feeds them through the pipeline.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subtitle-pipeline/internal/config"
	"github.com/MimeLyc/subtitle-pipeline/internal/memory"
	"github.com/MimeLyc/subtitle-pipeline/internal/pipeline"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/pkg/file"
	"github.com/MimeLyc/subtitle-pipeline/pkg/icron"
	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

var subtitleExts = map[string]bool{
	".srt": true,
	".vtt": true,
}

// WatchService scans the library on a cron schedule. Overlapping
// triggers collapse into one run via singleflight.
type WatchService struct {
	cfg      config.Config
	pipeline *pipeline.Pipeline
	codec    *subtitle.Codec
	cron     *cron.Cron
	cronExpr string

	group singleflight.Group

	mu      sync.Mutex
	lastRun time.Time
}

func NewWatchService(cfg config.Config, p *pipeline.Pipeline, c *cron.Cron) *WatchService {
	return &WatchService{
		cfg:      cfg,
		pipeline: p,
		codec:    subtitle.NewCodec(),
		cron:     c,
		cronExpr: cfg.Translate.CronExpr,
	}
}

// Schedule registers the scan on the cron instance. The caller owns
// starting and stopping the cron.
func (s *WatchService) Schedule(ctx context.Context) error {
	log.Info("Scheduling library watch: %s", s.cronExpr)
	_, err := s.cron.AddFunc(s.cronExpr, func() {
		s.RunOnce(ctx)
	})
	return err
}

// RunOnce performs one scan-and-translate pass over every watch dir.
// Concurrent invocations share a single run.
func (s *WatchService) RunOnce(ctx context.Context) {
	_, _, _ = s.group.Do("scan", func() (any, error) {
		scanStart := time.Now()
		since, err := s.startTime()
		if err != nil {
			log.Error("Library scan aborted: %v", err)
			return nil, nil
		}

		for _, dir := range s.cfg.Library.WatchDirs {
			if ctx.Err() != nil {
				log.Info("Library scan cancelled")
				return nil, nil
			}
			if err := s.runDir(ctx, dir, since); err != nil {
				log.Error("Library scan failed in %s: %v", dir, err)
			}
		}

		s.mu.Lock()
		s.lastRun = scanStart
		s.mu.Unlock()
		return nil, nil
	})
}

func (s *WatchService) runDir(ctx context.Context, dir string, since time.Time) error {
	candidates, err := s.findCandidates(dir, since)
	if err != nil {
		return err
	}
	log.Info("Found %d subtitle files to translate in %s", len(candidates), dir)

	for _, path := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.TranslateFile(ctx, path); err != nil {
			log.Error("Failed to translate %s: %v", path, err)
		}
	}
	return nil
}

// findCandidates returns subtitle files modified after since that are
// not already in the target language and have no target-language
// sibling on disk.
func (s *WatchService) findCandidates(dir string, since time.Time) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("directory %s does not exist", dir)
	}

	recent, err := file.FindRecentAfter(dir, since)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent files: %w", err)
	}

	target := s.cfg.Translate.TargetLanguage.String()
	candidates := make([]string, 0)
	for _, path := range recent {
		if !subtitleExts[strings.ToLower(filepath.Ext(path))] {
			continue
		}
		if file.HasLangSuffix(path, target) {
			continue
		}
		sibling := file.SiblingWithLang(path, target)
		if _, err := os.Stat(sibling); err == nil {
			continue
		}
		candidates = append(candidates, path)
	}
	return candidates, nil
}

// TranslateFile runs one subtitle file through the pipeline and writes
// the translated sibling next to it.
func (s *WatchService) TranslateFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read subtitle file: %w", err)
	}

	sourceLang := s.cfg.Translate.SourceLanguage
	if sourceLang == language.Und {
		if doc, parseErr := s.codec.Parse(string(raw)); parseErr == nil {
			sourceLang = subtitle.DetectLanguage(doc)
			log.Info("Detected source language %s for %s", sourceLang, path)
		}
	}

	res := s.pipeline.Translate(ctx, string(raw), pipeline.Options{
		Provider:         s.cfg.LLM.Provider,
		Model:            s.cfg.LLM.Model,
		SourceLang:       sourceLang,
		TargetLang:       s.cfg.Translate.TargetLanguage,
		BatchCount:       s.cfg.Translate.BatchCount,
		BatchConcurrency: s.cfg.Translate.BatchConcurrency,
		Scope:            memory.ScopeForFile(path),
	})
	if res.Cancelled {
		return fmt.Errorf("translation cancelled")
	}
	if res.Err != nil {
		return res.Err
	}

	output := file.SiblingWithLang(path, s.cfg.Translate.TargetLanguage.String())
	if err := os.WriteFile(output, []byte(res.Content), 0o644); err != nil {
		return fmt.Errorf("failed to write translated file: %w", err)
	}
	log.Info("Translated %s (tokens: %d, warnings: %d)", output, res.Usage.TotalTokens, len(res.Warnings))
	return nil
}

// startTime picks the scan window start: the previous run when known,
// otherwise the schedule's last theoretical trigger, capped at one
// week back.
func (s *WatchService) startTime() (time.Time, error) {
	s.mu.Lock()
	lastRun := s.lastRun
	s.mu.Unlock()
	if !lastRun.IsZero() {
		return lastRun, nil
	}

	info, err := icron.GetTriggerInfo(s.cronExpr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get cron schedule: %w", err)
	}
	weekAgo := time.Now().Add(-7 * 24 * time.Hour)
	if info.Last.IsZero() || info.Last.Before(weekAgo) {
		return weekAgo, nil
	}
	return info.Last, nil
}
