package api

import (
	"time"

	"github.com/univ-capstone/modelvideo/internal/ledger"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	Runner  string `json:"runner,omitempty"`
}

// PreferenceRequest is the style questionnaire posted by the mobile app.
type PreferenceRequest struct {
	UserID   string   `json:"userId"`
	Styles   []string `json:"styles"`
	Patterns []string `json:"patterns"`
	Purposes []string `json:"purposes"`
	Colors   []string `json:"colors"`
}

type OutfitItem struct {
	ImageURL string `json:"imageUrl"`
	Style    string `json:"style"`
	Size     string `json:"size"`
}

// ModelRequest asks for the user's model video to be rendered and published.
type ModelRequest struct {
	UserID     string      `json:"userId"`
	OutfitName string      `json:"outfitName"`
	Top        *OutfitItem `json:"top,omitempty"`
	Bottom     *OutfitItem `json:"bottom,omitempty"`
}

type ModelResponse struct {
	Message      string       `json:"message"`
	ReceivedData ModelRequest `json:"receivedData"`
	RunID        string       `json:"runId"`
}

type RunResponse struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	ModelID      string `json:"model_id"`
	Status       string `json:"status"`
	ObjectPath   string `json:"object_path"`
	DocumentPath string `json:"document_path"`
	URL          string `json:"url,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *ledger.Run) RunResponse {
	return RunResponse{
		ID:           r.ID,
		UserID:       r.UserID,
		ModelID:      r.ModelID,
		Status:       r.Status,
		ObjectPath:   r.ObjectPath,
		DocumentPath: r.DocumentPath,
		URL:          r.URL,
		Size:         r.Size,
		Error:        r.Error,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    r.UpdatedAt.Format(time.RFC3339),
	}
}
