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
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kadirpekel/mnemo/pkg/pipeline"
	"github.com/kadirpekel/mnemo/pkg/server"
)

// ServeCmd starts the HTTP server with the ingest workers, the inbox
// watcher, and the OCR worker.
type ServeCmd struct {
	Host       string `help:"Host to bind to."`
	Port       int    `help:"Port to listen on."`
	DocsFolder string `name:"docs-folder" help:"Folder to ingest at startup." type:"path"`
	Watch      bool   `help:"Keep watching the docs folder for new files."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.DocsFolder != "" && c.Watch {
		cfg.Ingest.InboxDir = c.DocsFolder
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	app.pool.Start(ctx)
	go drainResults(app)

	if c.DocsFolder != "" {
		go func() {
			if err := submitFolder(app, c.DocsFolder); err != nil {
				slog.Warn("Docs folder scan failed", "folder", c.DocsFolder, "error", err)
			}
		}()
	}
	if cfg.Ingest.InboxDir != "" {
		go watchInbox(ctx, app, cfg.Ingest.InboxDir)
	}
	if app.ocrWorker != nil {
		go app.ocrWorker.Run(ctx)
	}

	srv, err := server.New(cfg.Server, server.Deps{
		Pipeline: app.pipeline,
		Query:    app.query,
		Corpus:   app.corpus,
		Auth:     app.validator,
		Metrics:  app.obs.Metrics(),
		Events:   app.obs.Events(),
		Health:   app.obs.Health(),
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// drainResults logs pool outcomes so background ingests stay visible.
func drainResults(app *app) {
	for r := range app.pool.Results() {
		switch {
		case r.Err != nil:
			slog.Warn("Ingest failed", "file", r.Job.Hints.Filename, "error", r.Err)
		case r.Result.Status == pipeline.StatusIndexed:
			slog.Info("Ingested", "file", r.Job.Hints.Filename, "doc_id", r.Result.DocID, "chunks", r.Result.Chunks)
		default:
			slog.Info("Ingest skipped", "file", r.Job.Hints.Filename, "status", r.Result.Status, "reason", r.Result.GateReason)
		}
	}
}

// submitFolder queues every regular file under dir.
func submitFolder(app *app, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return submitFile(app, path)
	})
}

func submitFile(app *app, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return app.pool.Submit(pipeline.Job{
		Data: data,
		Hints: pipeline.Hints{
			Filename:   filepath.Base(path),
			SourcePath: path,
		},
	})
}

// settleDelay lets a file finish writing before it is picked up.
const settleDelay = 500 * time.Millisecond

// watchInbox submits files dropped into the inbox. Write bursts are
// debounced per path so a file copied in chunks is ingested once.
func watchInbox(ctx context.Context, app *app, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Inbox directory unavailable", "dir", dir, "error", err)
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Inbox watcher failed", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		slog.Error("Inbox watch failed", "dir", dir, "error", err)
		return
	}
	slog.Info("Watching inbox", "dir", dir)

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			path := event.Name
			mu.Lock()
			if timer, exists := pending[path]; exists {
				timer.Reset(settleDelay)
			} else {
				pending[path] = time.AfterFunc(settleDelay, func() {
					mu.Lock()
					delete(pending, path)
					mu.Unlock()
					if info, err := os.Stat(path); err != nil || info.IsDir() {
						return
					}
					if err := submitFile(app, path); err != nil {
						slog.Warn("Inbox submit failed", "file", path, "error", err)
					}
				})
			}
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Inbox watcher error", "error", err)
		}
	}
}
