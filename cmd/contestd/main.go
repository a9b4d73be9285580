// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesnobot/contestd/comms"
	"github.com/pesnobot/contestd/config"
	"github.com/pesnobot/contestd/contest"
	"github.com/pesnobot/contestd/contest/localdb"
	"github.com/pesnobot/contestd/events"
	"github.com/pesnobot/contestd/outbox"
	"github.com/pesnobot/contestd/scheduler"
	"github.com/pesnobot/contestd/util"
)

const (
	appName = "contestd"

	// defaultEncryptionKeyFilename is used when no key file is
	// configured. The key is created on first start.
	defaultEncryptionKeyFilename = "contestd.key"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

func _main() error {
	// Load the configuration and parse the command line.  This function
	// also initializes logging and configures it accordingly.
	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %v", err)
	}
	if cfg.ShowVersion {
		fmt.Printf("%v version %v (%v)\n", appName, version,
			runtime.Version())
		return nil
	}

	initLogRotator(filepath.Join(cfg.LogDir, config.DefaultLogFilename))
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		return nil
	}
	err = parseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		return fmt.Errorf("parse debug levels: %v", err)
	}

	log.Infof("Version : %v", version)
	log.Infof("Home dir: %v", cfg.HomeDir)

	// Shut down cleanly on SIGINT and SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load the at-rest encryption key, creating it on first start.
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = filepath.Join(cfg.HomeDir,
			defaultEncryptionKeyFilename)
	}
	key, err := util.LoadEncryptionKey(log, cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("load encryption key: %v", err)
	}
	defer util.Zero(key[:])

	// Open the record store.
	db, err := localdb.New(cfg.DataDir, key)
	if err != nil {
		return fmt.Errorf("open database: %v", err)
	}
	defer func() {
		err := db.Close()
		if err != nil {
			log.Errorf("close database: %v", err)
		}
	}()
	log.Infof("Database: leveldb %v", cfg.DataDir)

	// Wire the engine together.
	bus := events.NewManager()
	ob := outbox.New(db)
	msgr := comms.New(cfg.TransportURL, cfg.TransportToken)
	if !msgr.IsEnabled() {
		log.Infof("Chat transport disabled; notifications are " +
			"logged only")
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	sm, err := contest.New(cfg, db, bus, ob,
		contest.NewDirectNotifier(cfg, msgr), rnd)
	if err != nil {
		return fmt.Errorf("init state machine: %v", err)
	}

	notifier := contest.NewNotifier(cfg, sm, bus, msgr)
	notifier.RegisterHandlers()

	// The outbox relay mirrors committed domain events to the configured
	// external endpoint. Without one the relay drains into the log so
	// the outbox cannot grow without bound.
	var syncer outbox.Syncer
	if cfg.MirrorURL != "" {
		syncer = outbox.NewWebhookSyncer(cfg.MirrorURL)
		log.Infof("Mirroring domain events to %v", cfg.MirrorURL)
	} else {
		syncer = outbox.SyncerFunc(func(ctx context.Context, e outbox.Entry) error {
			log.Debugf("Mirror disabled, acking outbox entry %v %v",
				e.Kind, e.ID)
			return nil
		})
	}
	relay := outbox.NewRelay(ob, syncer, cfg.RelayInterval)

	sched := scheduler.New(cfg, sm, bus)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		notifier.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		relay.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		return sched.Run(ctx)
	})

	log.Infof("Contest engine running")
	err = eg.Wait()
	log.Infof("Exiting")
	return err
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
