package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/girish-j04/talk-to-your-repo/internal/ai"
	"github.com/girish-j04/talk-to-your-repo/internal/chat"
	"github.com/girish-j04/talk-to-your-repo/internal/config"
	"github.com/girish-j04/talk-to-your-repo/internal/ingest"
	"github.com/girish-j04/talk-to-your-repo/internal/registry"
	"github.com/girish-j04/talk-to-your-repo/internal/snapshot"
	"github.com/girish-j04/talk-to-your-repo/pkg/models"
)

type processRequest struct {
	GithubURL string `json:"github_url"`
}

type chatRequest struct {
	RepoID  string `json:"repo_id"`
	Message string `json:"message"`
	History []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"conversation_history"`
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("talkrepo-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting talk-to-your-repo api")

	// Create AI client configuration
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "google":
		clientConfig = &ai.ClientConfig{
			Provider:   ai.ProviderGemini,
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Provider: ai.ProviderStub,
			Dim:      cfg.Dim,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()
	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	logger.Info().Int("embedding_dim", client.Dim()).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	filter := snapshot.NewFilter()
	filter.MaxFileBytes = cfg.MaxFileBytes

	reg := registry.New()
	pipeline := ingest.New(
		snapshot.NewGitFetcher(time.Duration(cfg.FetchTimeoutSecs)*time.Second),
		filter,
		client,
		reg,
		ingest.Options{
			MaxChunkChars:  cfg.MaxChunkChars,
			FragmentBudget: cfg.FragmentBudget,
			EmbedPacing:    -1, // provider default pacing
		},
	)
	svc := chat.NewService(client, reg, cfg.TopK)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":          "healthy",
			"embedding_model": clientConfig.EmbedModel,
		})
	})

	mux.HandleFunc("POST /api/repos/process", func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.GithubURL) == "" {
			httpError(w, http.StatusBadRequest, "github_url is required")
			return
		}

		info, created := reg.Submit(req.GithubURL)
		if created {
			// Detached from the request context: the job outlives the
			// submission and is polled via /status.
			go pipeline.Run(context.Background(), info.ID, req.GithubURL)
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("GET /api/repos/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		info, err := reg.GetStatus(r.PathValue("id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "Repository not found")
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("GET /api/repos/{id}/files", func(w http.ResponseWriter, r *http.Request) {
		tree, err := svc.FileTree(r.PathValue("id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "Repository not found or not ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"file_tree": tree})
	})

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		history := make([]models.ChatMessage, 0, len(req.History))
		for _, m := range req.History {
			history = append(history, models.ChatMessage{Role: m.Role, Content: m.Content})
		}

		answer, err := svc.Answer(r.Context(), req.RepoID, req.Message, history)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			httpError(w, http.StatusNotFound, "Repository not found")
			return
		case errors.Is(err, registry.ErrNotReady):
			httpError(w, http.StatusBadRequest, "Repository is not ready for chat")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}

		for i := range answer.Sources {
			if math.IsNaN(answer.Sources[i].Score) || math.IsInf(answer.Sources[i].Score, 0) {
				answer.Sources[i].Score = 0
			}
		}
		writeJSON(w, http.StatusOK, answer)

		hlog.FromRequest(r).Info().Str("path", "/api/chat").Str("repo_id", req.RepoID).Dur("dur", time.Since(start)).Msg("served")
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(cors(mux)),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

// cors allows the browser frontend to call the API from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
