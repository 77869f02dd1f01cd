// Copyright 2025 The Slipway Authors
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

// Slipway deploys and tears down containerized preview environments for
// pull requests, driven by GitHub webhooks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/slipwaylabs/slipway/internal/config"
	"github.com/slipwaylabs/slipway/internal/githubapp"
	"github.com/slipwaylabs/slipway/internal/maillog"
	"github.com/slipwaylabs/slipway/internal/notify"
	"github.com/slipwaylabs/slipway/internal/registry"
	"github.com/slipwaylabs/slipway/internal/runner"
	"github.com/slipwaylabs/slipway/internal/webhook"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store registry.Store
	if cfg.RegistryDB != "" {
		sqliteStore, err := registry.NewSQLiteStore(cfg.RegistryDB)
		if err != nil {
			log.Fatal("opening registry database", zap.Error(err))
		}
		defer sqliteStore.Close()
		store = sqliteStore
	} else {
		fileStore, err := registry.NewFileStore(cfg.RegistryDir, log)
		if err != nil {
			log.Fatal("opening registry directory", zap.Error(err))
		}
		store = fileStore
	}

	actionRunner, err := runner.New(cfg.DeployCommand, cfg.CleanupCommand, cfg.WorkspaceRoot, cfg.PortMin, cfg.PortMax, log)
	if err != nil {
		log.Fatal("initializing runner", zap.Error(err))
	}

	minter := githubapp.NewMinter(cfg.AppID, cfg.PrivateKey, cfg.GitHubBaseURL, log)
	notifier := notify.New(cfg.GitHubBaseURL, log)

	var mailer webhook.MailSender
	if cfg.MailEnabled() {
		mailer = maillog.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword,
			cfg.MailRecipient, cfg.MailMaxAttempts, cfg.MailRetryDelay, log)
	} else {
		log.Info("mail channel disabled; run logs stay on disk")
	}

	dispatcher := webhook.NewDispatcher(minter, notifier, actionRunner, store, mailer, cfg.LogDir, log)

	sweeper := runner.NewSweeper(cfg.LogDir, cfg.ArtifactTTL, cfg.SweepInterval, log)
	go sweeper.Start(ctx)

	server := webhook.NewServer(cfg.ListenAddr, cfg.WebhookSecret, dispatcher, log)
	if err := server.Start(ctx); err != nil {
		log.Fatal("webhook server error", zap.Error(err))
	}
}
