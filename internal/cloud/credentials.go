package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// CredentialError reports a missing, malformed, or rejected service-account file.
type CredentialError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("credentials %s: %s", e.Path, e.Reason)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ServiceAccount is the subset of the service-account key file we check
// before handing it to the SDKs.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
}

// Credentials is a parsed service-account key.
type Credentials struct {
	Path    string
	Account ServiceAccount
	Google  *google.Credentials
}

// LoadCredentials reads and validates the service-account key at path.
// It does not contact the network; see Verify.
func LoadCredentials(ctx context.Context, path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		reason := "cannot read file"
		if errors.Is(err, os.ErrNotExist) {
			reason = "file not found"
		}
		return nil, &CredentialError{Path: path, Reason: reason, Err: err}
	}

	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, &CredentialError{Path: path, Reason: "malformed JSON", Err: err}
	}

	if sa.Type != "service_account" {
		return nil, &CredentialError{Path: path, Reason: fmt.Sprintf("unsupported credential type %q", sa.Type)}
	}

	var missing []string
	if sa.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if sa.ClientEmail == "" {
		missing = append(missing, "client_email")
	}
	if !strings.Contains(sa.PrivateKey, "PRIVATE KEY") {
		missing = append(missing, "private_key")
	}
	if len(missing) > 0 {
		return nil, &CredentialError{Path: path, Reason: "missing fields: " + strings.Join(missing, ", ")}
	}

	creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
	if err != nil {
		return nil, &CredentialError{Path: path, Reason: "rejected by oauth2", Err: err}
	}

	return &Credentials{Path: path, Account: sa, Google: creds}, nil
}

// Verify exchanges the key for an access token so that revoked or expired
// keys fail before any storage or database call.
func (c *Credentials) Verify() error {
	if _, err := c.Google.TokenSource.Token(); err != nil {
		return &CredentialError{Path: c.Path, Reason: "token exchange failed", Err: err}
	}
	return nil
}

// ProjectID returns the project the key belongs to.
func (c *Credentials) ProjectID() string {
	return c.Account.ProjectID
}
