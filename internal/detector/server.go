// internal/detector/server.go
package detector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/metrics"
	"github.com/signalnine/auspex/internal/response"
)

// Server is the central detector: it owns the window, the engine, the
// anomaly store, and the response dispatcher, and drives the periodic
// detection loop alongside the ingest HTTP surface.
type Server struct {
	cfg        *config.DetectorConfig
	window     *Window
	engine     *Engine
	store      *Store
	dispatcher *response.Dispatcher
	server     *http.Server
	log        *zap.Logger
}

// NewServer creates a detector server from configuration.
func NewServer(cfg *config.DetectorConfig, log *zap.Logger) (*Server, error) {
	store, err := NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	window := NewWindow(cfg.Detection.WindowSize)
	engine := NewEngine(cfg.Detection, NewBaselines(), log.Named("engine"))
	dispatcher := response.NewDispatcherFromConfig(cfg.Response, log.Named("response"))

	mux := http.NewServeMux()
	mux.Handle("/ingest", NewIngestHandler(window, cfg.APIKey, cfg.MaxPayloadBytes, log.Named("ingest")))
	mux.Handle("/anomalies", NewAnomaliesHandler(store, log.Named("query")))
	mux.Handle("/status", NewStatusHandler(store, window, log.Named("query")))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		window:     window,
		engine:     engine,
		store:      store,
		dispatcher: dispatcher,
		server:     server,
		log:        log,
	}, nil
}

// Run starts the HTTP server, the dispatcher pool, and the detection loop,
// and blocks until the context is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.serve(ctx, ln)
}

// RunAndGetAddr binds the listener, reports the bound address, and serves in
// the background until the context is cancelled. Lets callers use port 0.
func (s *Server) RunAndGetAddr(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	go s.serve(ctx, ln)
	return ln.Addr().String(), nil
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("detector starting", zap.String("addr", ln.Addr().String()))

	s.dispatcher.Start()

	// Persist post-dispatch annotations (blocked address, enforcement
	// outcome) back into the store.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for out := range s.dispatcher.Results() {
			if _, ok := out.Record.Data["ip_blocked"]; ok {
				if err := s.store.InsertAnomaly(out.Record); err != nil {
					s.log.Error("persist annotated anomaly", zap.String("anomaly", out.Record.ID), zap.Error(err))
				}
			}
		}
	}()

	// Detection runs at twice the sample interval so each cycle sees a few
	// fresh samples per host.
	detectPeriod := 2 * s.cfg.Detection.SampleInterval
	ticker := time.NewTicker(detectPeriod)
	defer ticker.Stop()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			cert, lerr := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
			if lerr != nil {
				errCh <- fmt.Errorf("load TLS cert: %w", lerr)
				return
			}
			s.server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			err = s.server.ServeTLS(ln, "", "")
		} else {
			err = s.server.Serve(ln)
		}
		if err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("detector shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.server.Shutdown(shutdownCtx)

			// No new ticks; let the bounded pool finish or time out.
			s.dispatcher.Stop()
			<-consumerDone
			s.store.Close()
			return nil

		case err := <-errCh:
			s.dispatcher.Stop()
			<-consumerDone
			s.store.Close()
			return err

		case <-ticker.C:
			s.runDetectionCycle()
		}
	}
}

// runDetectionCycle snapshots the window, scores it, and hands anomalies to
// the dispatcher. The window is trimmed to half capacity afterwards so
// recent samples stay eligible for one more cycle.
func (s *Server) runDetectionCycle() {
	snapshot := s.window.Snapshot()
	if len(snapshot) == 0 {
		s.log.Debug("no samples available for detection")
		return
	}

	start := time.Now()
	records := s.engine.Check(snapshot)
	metrics.DetectionCycles.Inc()
	metrics.DetectionLatency.Observe(time.Since(start).Seconds())

	for _, rec := range records {
		metrics.AnomaliesDetected.WithLabelValues(rec.Type, rec.Severity).Inc()
		s.log.Info("anomaly detected",
			zap.String("anomaly", rec.ID),
			zap.String("host", rec.Host),
			zap.String("type", rec.Type),
			zap.Float64("score", rec.Score),
			zap.String("severity", rec.Severity))

		if err := s.store.InsertAnomaly(rec); err != nil {
			s.log.Error("persist anomaly", zap.String("anomaly", rec.ID), zap.Error(err))
		}
		s.dispatcher.Submit(rec)
	}

	s.window.ShrinkToHalf()
	metrics.WindowSize.Set(float64(s.window.Len()))
}
