// Package cloud initializes the Firebase platform clients once per process.
// The resulting handles are passed explicitly to the storage and record
// stores instead of living in package globals.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Config selects the credential file, bucket and which clients to build.
type Config struct {
	CredentialsFile string
	Bucket          string
	// ProjectID overrides the project found in the credential file.
	ProjectID string
	// VerifyCredentials performs a token exchange during New.
	VerifyCredentials bool
	// SkipFirestore leaves Clients.Firestore nil, for non-Firestore record backends.
	SkipFirestore bool
	Logger        *slog.Logger
}

// Clients holds the authenticated handles shared by one run or one server.
type Clients struct {
	App        *firebase.App
	Storage    *storage.Client
	Firestore  *firestore.Client
	BucketName string
	ProjectID  string

	logger *slog.Logger
}

// New loads credentials and builds the platform clients. A credential
// problem is returned as *CredentialError before any client exists.
func New(ctx context.Context, cfg Config) (*Clients, error) {
	creds, err := LoadCredentials(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	if cfg.VerifyCredentials {
		if err := creds.Verify(); err != nil {
			return nil, err
		}
	}

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = creds.ProjectID()
	}

	opt := option.WithCredentials(creds.Google)

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     projectID,
		StorageBucket: cfg.Bucket,
	}, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	storageClient, err := storage.NewClient(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	c := &Clients{
		App:        app,
		Storage:    storageClient,
		BucketName: cfg.Bucket,
		ProjectID:  projectID,
		logger:     cfg.Logger,
	}

	if !cfg.SkipFirestore {
		fs, err := app.Firestore(ctx)
		if err != nil {
			storageClient.Close()
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		c.Firestore = fs
	}

	if c.logger != nil {
		c.logger.Info("cloud clients initialized",
			"project_id", projectID,
			"bucket", cfg.Bucket,
			"client_email", creds.Account.ClientEmail,
			"firestore", c.Firestore != nil,
		)
	}

	return c, nil
}

// Bucket returns a handle to the configured bucket.
func (c *Clients) Bucket() *storage.BucketHandle {
	return c.Storage.Bucket(c.BucketName)
}

// Close releases every client that was created.
func (c *Clients) Close() error {
	var errs []error
	if c.Firestore != nil {
		if err := c.Firestore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
