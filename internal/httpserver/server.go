package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/tokligence/localllama/internal/engine"
	"github.com/tokligence/localllama/internal/health"
	"github.com/tokligence/localllama/internal/httpserver/protocol"
	"github.com/tokligence/localllama/internal/ledger"
	"github.com/tokligence/localllama/internal/metrics"
	"github.com/tokligence/localllama/internal/session"
)

const maxBodyBytes = 4 << 20

var (
	errModelNotReady = errors.New("AI Model is not ready/loaded.")
	errInference     = errors.New("Internal Server Error during inference")
	errLedgerOff     = errors.New("generation ledger is disabled")
)

// Options carries the generation defaults applied to every request.
type Options struct {
	MaxNewTokens     int
	Temperature      *float64
	TopP             *float64
	Stop             []string
	DefaultSessionID string
	CORSOrigins      []string
}

// Server exposes the loaded model over HTTP. The model handle is set once
// by New and only read afterwards.
type Server struct {
	model    engine.Model
	registry session.Registry
	ledger   ledger.Store
	metrics  *metrics.Collector
	health   *health.Checker
	opts     Options

	logger   *log.Logger
	logLevel string
}

// New builds a Server. model may be nil, in which case generation routes
// answer 503. store may be nil to disable the ledger. A nil registry gets
// an in-memory one and a nil collector a fresh one.
func New(model engine.Model, registry session.Registry, store ledger.Store, collector *metrics.Collector, opts Options) *Server {
	if registry == nil {
		registry, _ = session.NewRegistry(session.KindMemory)
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{
		model:    model,
		registry: registry,
		ledger:   store,
		metrics:  collector,
		opts:     opts,
		logger:   log.New(os.Stdout, "[localllamad/http] ", log.LstdFlags|log.Lmicroseconds),
		logLevel: "info",
	}
	s.health = health.New(health.Config{Probes: s.probes()})
	return s
}

func (s *Server) probes() []health.Probe {
	modelProbe := health.Probe{Name: "model", Type: "model", Critical: true}
	if s.model != nil {
		modelProbe.Name = s.model.Name()
		modelProbe.Check = s.model.Health
	} else {
		modelProbe.Check = func(context.Context) error { return engine.ErrModelNotLoaded }
	}
	ledgerProbe := health.Probe{Name: "ledger", Type: "database"}
	if s.ledger != nil {
		ledgerProbe.Check = s.ledger.Ping
	}
	return []health.Probe{
		modelProbe,
		{Name: "registry", Type: "registry", Critical: true, Check: s.registry.Ping},
		ledgerProbe,
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r,
		newRootEndpoint(s),
		newChatEndpoint(s),
		newAskEndpoint(s),
		newHealthEndpoint(s),
		newMetricsEndpoint(s),
		newGenerationsEndpoint(s),
	)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(s.corsPolicy().Handler)
	return r
}

func (s *Server) corsPolicy() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Generation-ID", "X-Session-ID"},
		AllowCredentials: true,
	})
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, s.instrument(route.MetricLabel(), route.Handler))
		}
	}
}

// instrument records request counts, latency and in-flight gauges per route.
func (s *Server) instrument(label string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RecordRequestStart(label)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.metrics.RecordRequestEnd(label)
			s.metrics.RecordRequest(label, time.Since(start))
			if ww.Status() >= http.StatusBadRequest {
				s.metrics.RecordError(label)
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
// Call it before Router so the request log uses the same logger.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// Health runs the component probes.
func (s *Server) Health(ctx context.Context) health.HealthStatus {
	return s.health.Check(ctx)
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func (s *Server) generateOptions() engine.GenerateOptions {
	return engine.GenerateOptions{
		MaxNewTokens: s.opts.MaxNewTokens,
		Temperature:  s.opts.Temperature,
		TopP:         s.opts.TopP,
		Stop:         s.opts.Stop,
	}
}

// recordGeneration reports a finished generation to metrics and the ledger.
// The ledger write is detached from the request so a disconnect still lands.
func (s *Server) recordGeneration(ctx context.Context, gen *session.Generation, kind ledger.Kind, out session.Outcome, started time.Time) {
	elapsed := time.Since(started)
	modelName := ""
	if s.model != nil {
		modelName = s.model.Name()
	}
	s.metrics.RecordGeneration(string(kind), string(out.Reason), modelName, out.Tokens, elapsed)

	switch out.Reason {
	case session.FinishFailed:
		s.logger.Printf("generation %s session=%s kind=%s failed after %d tokens: %v", gen.ID, gen.SessionID, kind, out.Tokens, out.Err)
	default:
		s.debugf("generation %s session=%s kind=%s finished=%s tokens=%d elapsed=%s", gen.ID, gen.SessionID, kind, out.Reason, out.Tokens, elapsed)
	}

	if s.ledger == nil {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := s.ledger.Record(lctx, ledger.Entry{
		GenerationID:     gen.ID,
		SessionID:        gen.SessionID,
		Kind:             kind,
		Model:            modelName,
		PromptChars:      int64(len([]rune(gen.Prompt))),
		CompletionTokens: int64(out.Tokens),
		CompletionChars:  int64(out.Chars),
		FinishReason:     string(out.Reason),
		DurationMS:       elapsed.Milliseconds(),
		CreatedAt:        started.UTC(),
	})
	if err != nil {
		s.logger.Printf("ledger record failed generation=%s: %v", gen.ID, err)
	}
}

// decodeJSON reads a JSON body into dst. An empty body is accepted only
// when allowEmpty is set, leaving dst untouched.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
