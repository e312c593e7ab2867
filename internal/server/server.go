package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/virtdev/chardevd/internal/api/http"
	"github.com/virtdev/chardevd/internal/api/middleware"
	"github.com/virtdev/chardevd/internal/config"
	"github.com/virtdev/chardevd/internal/device"
	"github.com/virtdev/chardevd/internal/logging"
	"github.com/virtdev/chardevd/internal/monitoring"
	"github.com/virtdev/chardevd/internal/registry"
)

// readBufferSize bounds a single read from a node connection. Each read
// becomes one device write; the device re-chunks to its own buffer.
const readBufferSize = 32 * 1024

// Server owns the device, its node accept loop and the HTTP
// observability surface.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	device  *device.Device
	router  *gin.Engine

	httpSrv *http.Server
	httpLn  net.Listener

	closing atomic.Bool
	wg      sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New builds the server: logger, metrics, resource provider, device.
// The device is registered here; a registration failure aborts the
// load and leaves no resources allocated.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		logger = logging.NewDefault()
	}

	logger.Info("initializing chardevd",
		zap.Int("device_id", cfg.Device.ID),
		zap.String("base_name", cfg.Device.BaseName),
		zap.String("dev_dir", cfg.Device.DevDir),
		zap.String("http_port", cfg.Server.Port),
	)

	metrics := monitoring.NewMetrics()

	provider, err := registry.NewFS(cfg.Device.DevDir, logger)
	if err != nil {
		metrics.Close()
		return nil, err
	}

	dev, err := device.New(device.Config{
		ID:          cfg.Device.ID,
		BaseName:    cfg.Device.BaseName,
		ClassName:   cfg.Device.ClassName,
		BufferSize:  cfg.Device.BufferSize,
		JournalSize: cfg.Device.JournalSize,
	}, provider, logger, metrics)
	if err != nil {
		metrics.Close()
		return nil, err
	}

	if err := dev.Initialize(); err != nil {
		metrics.Close()
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	apihttp.NewHandlers(dev, metrics).Register(router)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		device:  dev,
		router:  router,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Device returns the registered device.
func (s *Server) Device() *device.Device {
	return s.device
}

// Start launches the node accept loop and the HTTP server. It returns
// once both listeners are live.
func (s *Server) Start() error {
	node := s.device.Node()
	s.wg.Add(1)
	go s.acceptLoop(node.Listener)

	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.httpLn = ln
	s.httpSrv = &http.Server{Handler: s.router}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	s.logger.Info("server started",
		zap.String("node", node.Path),
		zap.String("http_addr", ln.Addr().String()),
	)
	return nil
}

// HTTPAddr returns the bound HTTP address. Valid after Start.
func (s *Server) HTTPAddr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// acceptLoop serves node connections until the node is destroyed.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.closing.Load() {
				s.logger.Warn("node accept failed", zap.Error(err))
			}
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn maps one node connection onto the device's operation
// surface: connect is open, each read is a write, disconnect is
// release.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
	}()

	sess := s.device.Open()
	defer s.device.Release(sess)

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.device.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Close shuts the server down: HTTP first, then the device, which
// destroys the node and stops the accept loop.
func (s *Server) Close() error {
	s.closing.Store(true)

	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.httpSrv.Shutdown(ctx)
		cancel()
	}

	s.device.Shutdown()

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	s.metrics.Close()
	_ = s.logger.Sync()
	return err
}
