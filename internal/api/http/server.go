package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"swarmstream/internal/domain"
	domainports "swarmstream/internal/domain/ports"
	"swarmstream/internal/metrics"
	"swarmstream/internal/services/media/subtitles"
	"swarmstream/internal/usecase"
)

type AddTorrentUseCase interface {
	Execute(ctx context.Context, identifier string) (domain.TorrentRecord, error)
}

type RemoveTorrentUseCase interface {
	Execute(ctx context.Context, id domain.ContentID) error
}

type StreamFileUseCase interface {
	Execute(ctx context.Context, id domain.ContentID, filename string) (usecase.StreamResult, error)
}

type AnalyzeFileUseCase interface {
	Execute(ctx context.Context, id domain.ContentID, filename string) (domain.MediaInfo, error)
}

type SubtitleService interface {
	Track(ctx context.Context, sess domainports.Session, filename string, trackIndex int) (subtitles.Result, error)
}

type HLSService interface {
	Manifest(ctx context.Context, sess domainports.Session, filename string) ([]byte, error)
	SegmentPath(id domain.ContentID, filename, segment string) (string, error)
}

type probeCacheKey struct {
	id       domain.ContentID
	filename string
}

type probeCacheEntry struct {
	info      domain.MediaInfo
	expiresAt time.Time
}

type Server struct {
	logger   *slog.Logger
	engine   domainports.Engine
	repo     domainports.TorrentRepository
	add      AddTorrentUseCase
	remove   RemoveTorrentUseCase
	stream   StreamFileUseCase
	analyze  AnalyzeFileUseCase
	subs     SubtitleService
	hls      HLSService
	governor *Governor
	hub      *wsHub

	metricsHandler http.Handler

	initialChunkBytes int64
	maxChunkBytes     int64
	metadataTimeout   time.Duration

	probeMu    sync.Mutex
	probeCache map[probeCacheKey]probeCacheEntry

	handler http.Handler
}

type ServerOption func(*Server)

func WithRepository(repo domainports.TorrentRepository) ServerOption {
	return func(s *Server) { s.repo = repo }
}

func WithRemoveTorrent(uc RemoveTorrentUseCase) ServerOption {
	return func(s *Server) { s.remove = uc }
}

func WithStreamFile(uc StreamFileUseCase, initialChunk, maxChunk int64) ServerOption {
	return func(s *Server) {
		s.stream = uc
		if initialChunk > 0 {
			s.initialChunkBytes = initialChunk
		}
		if maxChunk > 0 {
			s.maxChunkBytes = maxChunk
		}
	}
}

func WithAnalyzeFile(uc AnalyzeFileUseCase) ServerOption {
	return func(s *Server) { s.analyze = uc }
}

func WithSubtitles(svc SubtitleService) ServerOption {
	return func(s *Server) { s.subs = svc }
}

func WithHLS(svc HLSService) ServerOption {
	return func(s *Server) { s.hls = svc }
}

func WithGovernor(g *Governor) ServerOption {
	return func(s *Server) { s.governor = g }
}

func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metricsHandler = h }
}

func WithMetadataTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.metadataTimeout = d }
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(engine domainports.Engine, add AddTorrentUseCase, opts ...ServerOption) *Server {
	s := &Server{
		logger:            slog.Default(),
		engine:            engine,
		add:               add,
		initialChunkBytes: 8 << 20,
		maxChunkBytes:     32 << 20,
		metadataTimeout:   60 * time.Second,
		probeCache:        make(map[probeCacheKey]probeCacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = newWSHub(s.logger)
	go s.hub.run()
	go s.broadcastLoop()

	s.handler = s.buildHandler()
	return s
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /add/{id}", s.handleAdd)
	mux.HandleFunc("GET /metadata/{id}", s.handleMetadata)
	mux.HandleFunc("GET /details/{id}", s.handleDetails)
	mux.HandleFunc("GET /detailsepisode/{id}/{filename}", s.handleDetailsEpisode)
	mux.HandleFunc("GET /deselect/{id}/{filename}", s.handleDeselect)
	mux.HandleFunc("DELETE /remove/{id}", s.handleRemove)
	mux.HandleFunc("GET /streamfile/{id}/{filename}", s.handleStreamFile)
	mux.HandleFunc("GET /tracks/{id}/{filename}", s.handleTracks)
	mux.HandleFunc("GET /subtitle/{id}/{filename}/{track}", s.handleSubtitle)
	mux.HandleFunc("GET /hls/{id}/{filename}/{segment}", s.handleHLS)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "swarmstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/ping"
		}),
	)

	var handler http.Handler = traced
	handler = metricsMiddleware(handler)
	if s.governor != nil {
		handler = s.governor.Middleware(handler)
	}
	handler = corsMiddleware(handler)
	handler = recoveryMiddleware(s.logger, handler)
	return handler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.governor != nil {
		s.governor.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.Any("error", err))
		return
	}
	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session resolves the swarm for a handler, reviving it from the
// repository when needed.
func (s *Server) session(ctx context.Context, id domain.ContentID) (domainports.Session, error) {
	return usecase.ResolveSession(ctx, s.engine, s.repo, id)
}

// broadcastLoop pushes live swarm stats to websocket clients and keeps
// the swarm gauges current.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.hub.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			stats := s.collectStats(ctx)
			cancel()
			if stats != nil {
				s.hub.Broadcast("stats", stats)
			}
		}
	}
}

func (s *Server) collectStats(ctx context.Context) []domain.SwarmStats {
	ids := s.engine.List(ctx)
	metrics.ActiveSwarms.Set(float64(len(ids)))
	var (
		out       []domain.SwarmStats
		downSpeed float64
		upSpeed   float64
		peers     int
	)
	for _, id := range ids {
		stat, err := s.engine.Stats(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, stat)
		downSpeed += float64(stat.DownloadSpeed)
		upSpeed += float64(stat.UploadSpeed)
		peers += stat.Peers
	}
	metrics.DownloadSpeedBytes.Set(downSpeed)
	metrics.UploadSpeedBytes.Set(upSpeed)
	metrics.PeersConnected.Set(float64(peers))
	return out
}

func (s *Server) cachedProbe(key probeCacheKey) (domain.MediaInfo, bool) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	entry, ok := s.probeCache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.probeCache, key)
		return domain.MediaInfo{}, false
	}
	return entry.info, true
}

func (s *Server) storeProbe(key probeCacheKey, info domain.MediaInfo) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	s.probeCache[key] = probeCacheEntry{info: info, expiresAt: time.Now().Add(time.Minute)}
}
