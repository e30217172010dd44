package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hemicycle/internal/cache"
	"hemicycle/internal/formatter"
	"hemicycle/internal/metrics"
	"hemicycle/internal/models"
	"hemicycle/internal/normalize"
	"hemicycle/internal/parser"
	"hemicycle/internal/prefetch"
	"hemicycle/internal/remote"
)

// DeputyCache is the read side of the deputy cache.
type DeputyCache interface {
	Get(id string) models.CacheEntry
	Stats() cache.Stats
	Legislature() string
}

type Warmer interface {
	Warm(ctx context.Context, groups map[string]any, legislature string) prefetch.WarmResult
}

type BallotSource interface {
	FetchBallot(ctx context.Context, id, legislature string) (models.RawRecord, error)
}

type Syncer interface {
	Sync(ctx context.Context, method, url, legislature string) (parser.SyncResult, error)
}

var (
	errSyncURLRequired   = errors.New("url is required")
	errSyncURLNotAllowed = errors.New("url host is not allowed")
)

// SyncSource restricts what the sync endpoint downloads. Requests without a
// url use DefaultURL; any other url must be http(s) on DefaultURL's host or
// one of AllowedHosts.
type SyncSource struct {
	DefaultURL   string
	AllowedHosts []string
}

func (s SyncSource) resolve(requested string) (string, error) {
	if requested == "" {
		if s.DefaultURL == "" {
			return "", errSyncURLRequired
		}
		return s.DefaultURL, nil
	}
	u, err := url.Parse(requested)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errSyncURLNotAllowed
	}
	if !slices.Contains(s.hosts(), strings.ToLower(u.Host)) {
		return "", errSyncURLNotAllowed
	}
	return requested, nil
}

func (s SyncSource) hosts() []string {
	hosts := make([]string, 0, len(s.AllowedHosts)+1)
	if u, err := url.Parse(s.DefaultURL); err == nil && u.Host != "" {
		hosts = append(hosts, strings.ToLower(u.Host))
	}
	for _, h := range s.AllowedHosts {
		hosts = append(hosts, strings.ToLower(h))
	}
	return hosts
}

type DeputyHandler struct {
	cache     DeputyCache
	warmer    Warmer
	ballots   BallotSource
	syncer    Syncer
	formatter *formatter.ResultsFormatter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	source    SyncSource
}

func NewDeputyHandler(c DeputyCache, w Warmer, b BallotSource, s Syncer, m *metrics.Metrics, logger *slog.Logger, source SyncSource) *DeputyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeputyHandler{
		cache:     c,
		warmer:    w,
		ballots:   b,
		syncer:    s,
		formatter: formatter.New(c),
		metrics:   m,
		logger:    logger,
		source:    source,
	}
}

// Router builds the HTTP surface.
func (h *DeputyHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/deputies/{id}", h.HandleGetDeputy)
		r.Post("/deputies/prefetch", h.HandlePrefetch)
		r.Get("/scrutins/{id}", h.HandleGetScrutin)
		r.Post("/sync/{method}", h.HandleSync)
		r.Get("/cache/stats", h.HandleCacheStats)
	})
	return r
}

func (h *DeputyHandler) HandleGetDeputy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if normalize.CanonicalID(id) == "" {
		http.Error(w, "Invalid deputy id", http.StatusBadRequest)
		return
	}

	entry := h.cache.Get(id)
	status := http.StatusOK
	switch {
	case entry.State == models.StateResolved:
	case entry.State == models.StateFailed && entry.Failure == models.FailureNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusAccepted
	}
	writeJSON(w, status, entry)
}

type prefetchRequest struct {
	Legislature string         `json:"legislature"`
	Groups      map[string]any `json:"groups"`
}

func (h *DeputyHandler) HandlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req prefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Groups) == 0 {
		http.Error(w, "groups are required", http.StatusBadRequest)
		return
	}

	result := h.warmer.Warm(r.Context(), req.Groups, h.legislature(req.Legislature))
	writeJSON(w, http.StatusOK, result)
}

type scrutinResponse struct {
	Prefetch prefetch.WarmResult    `json:"prefetch"`
	Result   formatter.BallotResult `json:"result"`
}

func (h *DeputyHandler) HandleGetScrutin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	legislature := h.legislature(r.URL.Query().Get("legislature"))

	raw, err := h.ballots.FetchBallot(ctx, id, legislature)
	if err != nil {
		if remote.IsNotFound(err) {
			http.Error(w, "Scrutin not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to fetch scrutin", "scrutin", id, "error", err)
		http.Error(w, "Error fetching scrutin", http.StatusBadGateway)
		return
	}

	groups := normalize.BallotGroups(raw)
	warm := h.warmer.Warm(ctx, groups, legislature)
	result := h.formatter.Format(id, raw, normalize.Breakdowns(groups))

	writeJSON(w, http.StatusOK, scrutinResponse{Prefetch: warm, Result: result})
}

func (h *DeputyHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	method := chi.URLParam(r, "method")
	syncURL, err := h.source.resolve(r.URL.Query().Get("url"))
	switch {
	case errors.Is(err, errSyncURLRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.WarnContext(ctx, "sync url rejected", "url", r.URL.Query().Get("url"))
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	legislature := h.legislature(r.URL.Query().Get("legislature"))

	h.logger.InfoContext(ctx, "starting sync", "method", method, "url", syncURL, "legislature", legislature)
	result, err := h.syncer.Sync(ctx, method, syncURL, legislature)
	if err != nil {
		var parseErr *parser.ParseError
		switch {
		case errors.Is(err, parser.ErrNoParser):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.As(err, &parseErr) && parseErr.Stage == "download":
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			h.logger.ErrorContext(ctx, "sync failed", "method", method, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DeputyHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *DeputyHandler) legislature(requested string) string {
	if requested != "" {
		return requested
	}
	return h.cache.Legislature()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
