package roomd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/httpapi"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/provision"
	"pkt.systems/roomd/internal/qrf"
	"pkt.systems/roomd/internal/reservation"
	"pkt.systems/roomd/internal/search"
	"pkt.systems/roomd/internal/search/rediscache"
	"pkt.systems/roomd/internal/storage"
	loggingbackend "pkt.systems/roomd/internal/storage/logging"
	"pkt.systems/roomd/internal/storage/retry"
	"pkt.systems/roomd/internal/svcfields"
	"pkt.systems/roomd/internal/version"
)

// Server wraps the HTTP server, storage backend, and supporting components.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	backend      storage.Backend
	ownsBackend  bool
	cache        *rediscache.Cache
	provisioner  *provision.Provisioner
	handler      http.Handler
	httpSrv      *http.Server
	listener     net.Listener
	clock        clock.Clock
	telemetry    *telemetry
	lastServeErr error

	mu          sync.Mutex
	shutdown    bool
	sweeperStop chan struct{}
	sweeperDone sync.WaitGroup
	readyOnce   sync.Once
	readyCh     chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Backend      storage.Backend
	Clock        clock.Clock
	SearchCache  search.Cache
	OTLPEndpoint string
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithBackend injects a pre-built backend (useful for tests). The server
// does not close injected backends.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.Backend = b
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithSearchCache injects a search cache in place of the redis cache built
// from Config.RedisAddr. Config.SearchCacheTTL still controls expiry.
func WithSearchCache(c search.Cache) Option {
	return func(o *options) {
		o.SearchCache = c
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// NewServer constructs a roomd server according to cfg.
// Example:
//
//	cfg := roomd.Config{Store: "mem://", Listen: ":9341"}
//	srv, err := roomd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (srv *Server, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = o.OTLPEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := loggingutil.EnsureLogger(o.Logger)
	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}
	ctx := context.Background()

	var cleanups []func()
	defer func() {
		if err != nil {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		}
	}()

	tel, err := setupTelemetry(ctx, telemetryConfig{
		OTLPEndpoint:   cfg.OTLPEndpoint,
		MetricsListen:  cfg.MetricsListen,
		PprofListen:    cfg.PprofListen,
		RuntimeMetrics: cfg.EnableProfilingMetrics,
	}, svcfields.WithSubsystem(logger, "telemetry"))
	if err != nil {
		return nil, err
	}
	if tel != nil {
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(shutdownCtx)
		})
	}

	backend := o.Backend
	ownsBackend := false
	if backend == nil {
		backend, err = OpenBackend(ctx, cfg, svcfields.WithSubsystem(logger, "storage.postgres"))
		if err != nil {
			return nil, err
		}
		ownsBackend = true
		raw := backend
		cleanups = append(cleanups, func() { _ = raw.Close() })
	}
	if !cfg.DisableStorageTracing {
		backend = loggingbackend.Wrap(backend, logger, "storage.backend")
	}
	backend = retry.Wrap(backend, svcfields.WithSubsystem(logger, "storage.retry"), serverClock, retry.Config{
		MaxAttempts: cfg.StorageRetryMaxAttempts,
		BaseDelay:   cfg.StorageRetryBaseDelay,
		MaxDelay:    cfg.StorageRetryMaxDelay,
		Multiplier:  cfg.StorageRetryMultiplier,
	})

	engine, err := reservation.New(reservation.Config{
		Backend:  backend,
		Clock:    serverClock,
		Logger:   logger,
		LockWait: cfg.LockWait,
	})
	if err != nil {
		return nil, err
	}

	searchCache := o.SearchCache
	var redisCache *rediscache.Cache
	if searchCache == nil && cfg.SearchCacheTTL > 0 {
		redisCache, err = rediscache.New(rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, func() { _ = redisCache.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if perr := redisCache.Ping(pingCtx); perr != nil {
			logger.Warn("search.cache.unreachable", "addr", cfg.RedisAddr, "error", perr)
		}
		cancel()
		searchCache = redisCache
	}
	searchSvc, err := search.New(search.Config{
		Backend:  backend,
		Cache:    searchCache,
		CacheTTL: cfg.SearchCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	prov, err := provision.New(provision.Config{
		Backend:     backend,
		Clock:       serverClock,
		Logger:      logger,
		HorizonDays: cfg.ProvisionHorizonDays,
	})
	if err != nil {
		return nil, err
	}

	var limiter *qrf.Controller
	if !cfg.DisableRateLimit {
		limiter = qrf.NewController(qrf.Config{
			Enabled: true,
			Limit:   cfg.RateLimit,
			Window:  cfg.RateLimitWindow,
			MaxWait: cfg.RateLimitMaxWait,
			Clock:   serverClock,
			Logger:  logger,
		})
	}

	api, err := httpapi.New(httpapi.Config{
		Engine:             engine,
		Search:             searchSvc,
		Provisioner:        prov,
		Backend:            backend,
		Limiter:            limiter,
		Logger:             logger,
		JSONMaxBytes:       cfg.JSONMaxBytes,
		DisableHTTPTracing: cfg.DisableHTTPTracing,
		Version:            version.Current(),
	})
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	api.Register(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return pslog.ContextWithLogger(context.Background(), logger)
		},
		ErrorLog: newHTTPErrorLog(svcfields.WithSubsystem(logger, "server.http")),
	}

	logger.Info("server.configured",
		"store_scheme", mustScheme(cfg.Store),
		"lock_wait", cfg.LockWait,
		"horizon_days", cfg.ProvisionHorizonDays,
		"provision_interval", cfg.ProvisionInterval,
		"search_cache_ttl", cfg.SearchCacheTTL,
	)
	return &Server{
		cfg:         cfg,
		logger:      svcfields.WithSubsystem(logger, "server"),
		backend:     backend,
		ownsBackend: ownsBackend,
		cache:       redisCache,
		provisioner: prov,
		handler:     mux,
		httpSrv:     httpSrv,
		clock:       serverClock,
		telemetry:   tel,
		readyCh:     make(chan struct{}),
	}, nil
}

func mustScheme(store string) string {
	scheme, err := StoreScheme(store)
	if err != nil {
		return "unknown"
	}
	return scheme
}

// Handler exposes the HTTP handler (useful for embedding in tests).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start provisions the availability horizon, then begins serving HTTP
// traffic. It blocks until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.provisionOnce(context.Background())
	s.signalReady()
	s.logger.Info("server.listen", "address", ln.Addr().String())
	s.startSweeper()
	defer s.stopSweeper()
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server, bounded by ctx or, when ctx has no
// deadline, by Config.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("server.shutdown.begin")
	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.stopSweeper()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("search cache close: %w", err))
		}
	}
	if s.ownsBackend {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend close: %w", err))
		}
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			errs = append(errs, err)
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("server.shutdown.complete")
	return nil
}

// Close shuts the server down without a caller deadline.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the listener is bound and the first
// provisioning pass has run, or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound address, or nil before Start.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

func (s *Server) provisionOnce(ctx context.Context) {
	res, err := s.provisioner.EnsureHorizon(ctx)
	if err != nil {
		s.logger.Warn("provision.horizon.failed", "error", err, "rooms", res.Rooms, "created", res.Created)
		return
	}
	if res.Created > 0 {
		s.logger.Info("provision.horizon.extended",
			"rooms", res.Rooms,
			"created", res.Created,
			"start", res.Start.String(),
			"end", res.End.String(),
		)
	}
}

func (s *Server) startSweeper() {
	if s.cfg.ProvisionInterval <= 0 {
		return
	}
	s.mu.Lock()
	if s.sweeperStop != nil {
		s.mu.Unlock()
		return
	}
	s.sweeperStop = make(chan struct{})
	s.sweeperDone.Add(1)
	stopCh := s.sweeperStop
	interval := s.cfg.ProvisionInterval
	s.mu.Unlock()
	go func() {
		defer s.sweeperDone.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-stopCh
			cancel()
		}()
		for {
			select {
			case <-stopCh:
				return
			case <-s.clock.After(interval):
				s.provisionOnce(ctx)
			}
		}
	}()
}

func (s *Server) stopSweeper() {
	s.mu.Lock()
	stopCh := s.sweeperStop
	if stopCh != nil {
		close(stopCh)
		s.sweeperStop = nil
	}
	s.mu.Unlock()
	if stopCh != nil {
		s.sweeperDone.Wait()
	}
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the error Serve last returned.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer constructs and starts a server in the background, returning it
// once ready together with an idempotent stop function. Cancelling ctx also
// stops the server.
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	readyCtx, cancelReady := context.WithCancel(ctx)
	defer cancelReady()
	go func() {
		select {
		case err := <-errCh:
			// Start failed before becoming ready; surface it through the wait.
			errCh <- err
			cancelReady()
		case <-readyCtx.Done():
		}
	}()
	if err := srv.WaitUntilReady(readyCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		select {
		case startErr := <-errCh:
			if startErr != nil {
				return nil, nil, startErr
			}
		default:
		}
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
			}
			if err := <-errCh; err != nil && stopErr == nil {
				stopErr = err
			}
		})
		return stopErr
	}
	go func() {
		<-ctx.Done()
		_ = stop(context.Background())
	}()
	return srv, stop, nil
}

// newHTTPErrorLog routes net/http's internal error log through pslog.
func newHTTPErrorLog(logger pslog.Logger) *log.Logger {
	return log.New(httpErrorWriter{logger: logger}, "", 0)
}

type httpErrorWriter struct {
	logger pslog.Logger
}

func (w httpErrorWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimSpace(p))
	if msg != "" {
		w.logger.Warn("server.http.error", "message", msg)
	}
	return len(p), nil
}
