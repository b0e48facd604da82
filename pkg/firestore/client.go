// Package firestore adapts cloud.google.com/go/firestore to docstore.Store.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gfs "cloud.google.com/go/firestore"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/env"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"google.golang.org/api/option"
)

// emulatorHostEnv is read by the Firestore client library itself.
const emulatorHostEnv = "FIRESTORE_EMULATOR_HOST"

// Client wraps the Firestore client and implements docstore.Store.
type Client struct {
	fs          *gfs.Client
	projectID   string
	maxAttempts int
}

// New connects to Firestore, or to the emulator when one is configured.
// An empty credentials file falls back to application default credentials.
func New(ctx context.Context, gcp config.GCPConfig, cfg config.FirestoreConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	if err := env.SetDefault(emulatorHostEnv, cfg.EmulatorHost); err != nil {
		return nil, fmt.Errorf("export emulator host: %w", err)
	}

	var opts []option.ClientOption
	if gcp.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcp.CredentialsFile))
	}
	fs, err := gfs.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"project_id": projectID,
			"emulator":   cfg.EmulatorHost != "",
		})
		logg.Info(ctx, "firestore client initialized")
	}

	return &Client{fs: fs, projectID: projectID, maxAttempts: cfg.MaxAttempts}, nil
}

// Raw exposes the underlying client for listeners.
func (c *Client) Raw() *gfs.Client {
	if c == nil {
		return nil
	}
	return c.fs
}

// Ping lists root collections since Firestore has no ping RPC.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.fs == nil {
		return errors.New("firestore client is nil")
	}
	if _, err := c.fs.Collections(ctx).GetAll(); err != nil {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.fs == nil {
		return nil
	}
	return c.fs.Close()
}
