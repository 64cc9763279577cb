package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/univ-capstone/modelvideo/internal/upload"
)

const receivedMessage = "Data received successfully"

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(NewClientLimiter(cfg.RateLimit, cfg.RateBurst), cfg.Logger))
		r.Use(AuthMiddleware(cfg.Auth, cfg.Logger))

		r.Post("/preference", preferenceHandler(cfg))
		r.Post("/model", modelHandler(cfg))
		r.Get("/uploads", listUploadsHandler(cfg))
		r.Get("/uploads/{id}", getUploadHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}
		if cfg.Runner != nil {
			switch {
			case cfg.Runner.IsPaused():
				resp.Runner = "paused"
			case cfg.Runner.IsRunning():
				resp.Runner = "running"
			default:
				resp.Runner = "stopped"
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func preferenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PreferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if !authorizedFor(r, req.UserID) {
			WriteError(w, http.StatusForbidden, "token subject does not match userId", "FORBIDDEN")
			return
		}

		cfg.Logger.Info("preference received",
			"user_id", req.UserID,
			"styles", req.Styles,
			"patterns", req.Patterns,
			"purposes", req.Purposes,
			"colors", req.Colors,
		)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(receivedMessage))
	}
}

func modelHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.UserID == "" {
			WriteError(w, http.StatusBadRequest, "userId is required", "BAD_REQUEST")
			return
		}
		if !authorizedFor(r, req.UserID) {
			WriteError(w, http.StatusForbidden, "token subject does not match userId", "FORBIDDEN")
			return
		}

		attrs := []any{"user_id", req.UserID, "outfit", req.OutfitName}
		if req.Top != nil {
			attrs = append(attrs, "top_style", req.Top.Style, "top_size", req.Top.Size, "top_image", req.Top.ImageURL)
		}
		if req.Bottom != nil {
			attrs = append(attrs, "bottom_style", req.Bottom.Style, "bottom_size", req.Bottom.Size, "bottom_image", req.Bottom.ImageURL)
		}
		cfg.Logger.Info("outfit received", attrs...)

		run, err := cfg.Service.Enqueue(r.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, upload.ErrInvalidUserID) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			cfg.Logger.Error("failed to enqueue upload run", "user_id", req.UserID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to queue upload", "INTERNAL_ERROR")
			return
		}
		if cfg.Runner != nil {
			cfg.Runner.Notify()
		}

		WriteJSON(w, http.StatusOK, ModelResponse{
			Message:      receivedMessage,
			ReceivedData: req,
			RunID:        run.ID,
		})
	}
}

func listUploadsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if claims := ClaimsFrom(r.Context()); claims != nil {
			if userID == "" {
				userID = claims.UserID()
			}
			if userID != claims.UserID() {
				WriteError(w, http.StatusForbidden, "token subject does not match user_id", "FORBIDDEN")
				return
			}
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		runs, err := cfg.Repository.ListRuns(r.Context(), userID, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list uploads", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getUploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "upload id required", "BAD_REQUEST")
			return
		}

		run, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil || !authorizedFor(r, run.UserID) {
			WriteError(w, http.StatusNotFound, "upload not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

// authorizedFor reports whether the caller may act for userID.
func authorizedFor(r *http.Request, userID string) bool {
	claims := ClaimsFrom(r.Context())
	return claims == nil || claims.UserID() == userID
}
