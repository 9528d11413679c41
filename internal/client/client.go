// Package client wires the daemon together: single-instance lock, relay
// connection, file watcher and syncer.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/nyroxsystems-boop/partsync/internal/client/config"
	"github.com/nyroxsystems-boop/partsync/internal/client/sync"
	"github.com/nyroxsystems-boop/partsync/internal/sdk"
)

type Client struct {
	cfg     *config.Config
	conn    *sdk.Conn
	watcher *sync.Watcher
	syncer  *sync.Syncer
	lock    *flock.Flock
}

func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lockPath, err := cfg.LockFilePath()
	if err != nil {
		return nil, err
	}

	conn := sdk.New(sdk.Config{
		ServerURL:  cfg.ServerURL,
		ClientName: cfg.Name,
		Token:      cfg.Token,
	})

	watcher := sync.NewWatcher(cfg.DataDir)

	syncer, err := sync.New(sync.Options{
		Dir:        cfg.DataDir,
		ClientName: cfg.Name,
		Transport:  conn,
		Watcher:    watcher,
		Ignore:     sync.NewIgnoreList(cfg.DataDir, cfg.Ignore),
	})
	if err != nil {
		return nil, err
	}
	conn.OnConnect(syncer.OnConnected)

	return &Client{
		cfg:     cfg,
		conn:    conn,
		watcher: watcher,
		syncer:  syncer,
		lock:    flock.New(lockPath),
	}, nil
}

// Start runs the daemon until ctx ends.
func (c *Client) Start(ctx context.Context) error {
	locked, err := c.lock.TryLock()
	if err != nil {
		return fmt.Errorf("client: instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("client: another instance is already syncing %s", c.cfg.DataDir)
	}
	defer c.lock.Unlock()

	slog.Info("client starting",
		"name", c.cfg.Name, "dir", c.cfg.DataDir, "server", c.cfg.ServerURL)

	if err := c.watcher.Start(ctx); err != nil {
		return fmt.Errorf("client: watcher: %w", err)
	}
	defer c.watcher.Stop()

	if err := c.conn.Connect(ctx); err != nil {
		// the reconnect loop takes over once the first dial succeeds, but a
		// dead relay at startup is worth surfacing immediately
		slog.Warn("relay not reachable, will keep retrying", "error", err)
		go c.retryInitialConnect(ctx)
	}
	defer c.conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.syncer.Run(gctx)
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})

	return g.Wait()
}

func (c *Client) retryInitialConnect(ctx context.Context) {
	for attempt := 1; attempt <= sdk.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(sdk.ReconnectDelay):
		}

		err := c.conn.Connect(ctx)
		if err == nil {
			return
		}
		slog.Debug("initial connect retry failed", "attempt", attempt, "error", err)
	}
	slog.Error("giving up on initial connect", "attempts", sdk.MaxReconnectAttempts)
}
