// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/pipeline"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// withApp builds the composition root for a one-shot command.
func withApp(cli *CLI, fn func(ctx context.Context, app *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// IngestCmd ingests files and directories.
type IngestCmd struct {
	Paths     []string `arg:"" help:"Files or directories to ingest." type:"path"`
	Kind      string   `help:"Force a source kind instead of detection."`
	Recursive bool     `short:"r" help:"Descend into subdirectories."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		files, err := collectFiles(c.Paths, c.Recursive)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("nothing to ingest")
		}

		var indexed, skipped, failed int
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Printf("  ✗ %s: %v\n", path, err)
				failed++
				continue
			}
			res, err := app.pipeline.Ingest(ctx, data, pipeline.Hints{
				Filename:   filepath.Base(path),
				Kind:       c.Kind,
				SourcePath: path,
			})
			switch {
			case err != nil:
				fmt.Printf("  ✗ %s: %v\n", path, err)
				failed++
			case res.Status == pipeline.StatusIndexed:
				fmt.Printf("  ✓ %s → %s (%d chunks)\n", path, res.DocID, res.Chunks)
				indexed++
			default:
				fmt.Printf("  - %s: %s %s\n", path, res.Status, res.GateReason)
				skipped++
			}
		}
		fmt.Printf("\n%d indexed, %d skipped, %d failed\n", indexed, skipped, failed)
		return nil
	})
}

func collectFiles(paths []string, recursive bool) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		if recursive {
			err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				files = append(files, path)
				return nil
			})
			if err != nil {
				return nil, err
			}
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	return files, nil
}

// SearchCmd runs a hybrid search and prints ranked chunks.
type SearchCmd struct {
	Query  []string `arg:"" help:"Search query."`
	TopK   int      `name:"top-k" help:"Number of results."`
	Filter []string `help:"Restrict to topic paths."`
	Rerank bool     `negatable:"" default:"true" help:"Rerank candidates."`
	Hyde   bool     `help:"Expand sparse queries with hypothetical documents."`
	View   string   `help:"Corpus view (canonical or full)."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		req := pipeline.SearchRequest{
			Query:     strings.Join(c.Query, " "),
			TopK:      c.TopK,
			UseRerank: &c.Rerank,
			View:      c.View,
		}
		if c.Hyde {
			hyde := true
			req.UseHyde = &hyde
		}
		if len(c.Filter) > 0 {
			req.Filter = &document.SearchFilter{Topics: c.Filter}
		}

		ranked, err := app.query.Search(ctx, req)
		if err != nil {
			return err
		}
		if len(ranked) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, r := range ranked {
			fmt.Printf("%2d. [%.3f] %s (%s)\n", i+1, r.RerankScore, r.Title, r.ChunkID)
			fmt.Printf("    %s\n", utils.Truncate(strings.ReplaceAll(r.Text, "\n", " "), 140))
		}
		return nil
	})
}

// ChatCmd answers one question, or runs an interactive session when
// stdin is a terminal and no question was given.
type ChatCmd struct {
	Question []string `arg:"" optional:"" help:"Question to answer."`
	TopK     int      `name:"top-k" help:"Context size."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		if len(c.Question) > 0 {
			return c.ask(ctx, app, strings.Join(c.Question, " "))
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("question is required when stdin is not a terminal")
		}

		fmt.Println("Interactive session. Empty line or Ctrl-D exits.")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("mnemo> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				return nil
			}
			if err := c.ask(ctx, app, question); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
	})
}

func (c *ChatCmd) ask(ctx context.Context, app *app, question string) error {
	result, err := app.query.Chat(ctx, pipeline.SearchRequest{Query: question, TopK: c.TopK})
	if err != nil {
		return err
	}

	fmt.Println(result.Answer)
	if result.Refused {
		fmt.Printf("\n(confidence %.2f, %s)\n", result.Assessment.Overall, result.Assessment.Recommendation)
		return nil
	}
	if len(result.Citations) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(result.Citations, ", "))
	}
	if result.Model != "" {
		fmt.Printf("(%s, $%.4f, %dms)\n", result.Model, result.USD, result.LatencyMS)
	}
	return nil
}

// StatsCmd prints corpus, cost, and queue statistics.
type StatsCmd struct{}

func (c *StatsCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		stats, err := app.corpus.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Documents:   %d (%d canonical, %d duplicates)\n",
			stats.Documents, stats.Canonical, stats.Duplicates)
		fmt.Printf("Chunks:      %d (vectors: %d canonical, %d full)\n",
			stats.Chunks, stats.VectorCanonical, stats.VectorFull)
		fmt.Printf("Storage:     %.1f MB\n", float64(stats.TotalBytes)/(1<<20))
		fmt.Printf("Enrichment:  $%.4f lifetime, $%.4f today\n",
			stats.EnrichmentUSD, app.ledger.TodayUSD())
		if len(stats.ByKind) > 0 {
			fmt.Println("By kind:")
			for kind, n := range stats.ByKind {
				fmt.Printf("  %-12s %d\n", kind, n)
			}
		}
		ocrStats := app.ocrQueue.Stats()
		fmt.Printf("OCR queue:   %d pending, %d failed\n", ocrStats.Pending, ocrStats.Failed)
		return nil
	})
}

// DeleteCmd removes a document from the registry and both indexes.
type DeleteCmd struct {
	DocID string `arg:"" help:"Document ID to delete."`
}

func (c *DeleteCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		if err := app.corpus.Delete(ctx, c.DocID); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", c.DocID)
		return nil
	})
}

// OCRCmd manages the re-OCR queue.
type OCRCmd struct {
	Run    OCRRunCmd    `cmd:"" help:"Process queued entries until drained or interrupted."`
	Status OCRStatusCmd `cmd:"" help:"Show queue state."`
}

// OCRRunCmd drains the queue in the foreground.
type OCRRunCmd struct{}

func (c *OCRRunCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		if app.ocrWorker == nil {
			return fmt.Errorf("no OCR command configured (set ocr.command)")
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go app.ocrWorker.Run(ctx)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				stats := app.ocrQueue.Stats()
				if stats.Pending == 0 && stats.Processing == 0 {
					fmt.Printf("Queue drained: %d completed, %d failed\n", stats.Completed, stats.Failed)
					return nil
				}
			}
		}
	})
}

// OCRStatusCmd prints the queue entries.
type OCRStatusCmd struct{}

func (c *OCRStatusCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		stats := app.ocrQueue.Stats()
		fmt.Printf("%d pending, %d processing, %d completed, %d failed\n",
			stats.Pending, stats.Processing, stats.Completed, stats.Failed)
		for _, e := range app.ocrQueue.Snapshot() {
			fmt.Printf("  %-10s %s (confidence %.2f, attempts %d)\n",
				e.State, e.SourcePath, e.OriginalConfidence, e.Attempts)
		}
		return nil
	})
}

// VocabCmd inspects the controlled vocabulary.
type VocabCmd struct {
	Suggestions VocabSuggestionsCmd `cmd:"" help:"List ungoverned tags proposed by enrichment."`
}

// VocabSuggestionsCmd lists candidate vocabulary additions.
type VocabSuggestionsCmd struct {
	Limit int `default:"50" help:"Maximum suggestions to show."`
}

func (c *VocabSuggestionsCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, app *app) error {
		tags, err := app.corpus.Registry().SuggestedTags(ctx, c.Limit)
		if err != nil {
			return err
		}
		if len(tags) == 0 {
			fmt.Println("No suggestions.")
			return nil
		}
		for _, tag := range tags {
			fmt.Printf("  %-40s %3d mentions (first %s)\n",
				tag.Tag, tag.Mentions, tag.FirstSeen.Format("2006-01-02"))
		}
		return nil
	})
}
