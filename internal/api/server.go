package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oakline-systems/researchportal/internal/audit"
	"github.com/oakline-systems/researchportal/internal/auth"
	"github.com/oakline-systems/researchportal/internal/infrastructure/config"
	"github.com/oakline-systems/researchportal/internal/infrastructure/logging"
	"github.com/oakline-systems/researchportal/internal/project"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// sessionSweepInterval is how often expired session rows are removed.
const sessionSweepInterval = time.Hour

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Auth      *auth.Service
	Users     auth.UserRepository
	Projects  project.Repository
	Members   project.MembershipRepository
	AuditRepo audit.Repository
	AuditSink auth.AuditSink
	DB        *sql.DB // for pool stats on /metrics
	Version   string
}

// Server is the HTTP API server for Research Portal Core.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	authSvc   *auth.Service
	users     auth.UserRepository
	projects  project.Repository
	members   project.MembershipRepository
	auditRepo audit.Repository
	audit     auth.AuditSink
	db        *sql.DB
	version   string
	startTime time.Time
	limiters  *ipLimiters
	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.Projects == nil || deps.Members == nil {
		return nil, fmt.Errorf("project repositories are required")
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		authSvc:   deps.Auth,
		users:     deps.Users,
		projects:  deps.Projects,
		members:   deps.Members,
		auditRepo: deps.AuditRepo,
		audit:     deps.AuditSink,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	if s.audit == nil {
		s.audit = noopSink{}
	}

	if deps.Security.RateLimit.Enabled {
		s.limiters = newIPLimiters(
			deps.Security.RateLimit.RequestsPerMinute,
			deps.Security.RateLimit.Burst,
		)
	}

	return s, nil
}

// noopSink drops audit events when no sink is wired (tests).
type noopSink struct{}

func (noopSink) Record(auth.AuditEvent) {}

// Start begins listening for HTTP connections.
//
// It builds the router, launches the expired-session sweeper and the HTTP
// listener in background goroutines. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.sweepSessionsLoop(srvCtx)
	if s.limiters != nil {
		go s.evictLimitersLoop(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (sweeper, limiter eviction)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// sweepSessionsLoop removes expired session rows periodically until the
// context is cancelled.
func (s *Server) sweepSessionsLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.authSvc.SweepExpiredSessions(ctx)
			if err != nil {
				s.logger.Error("sweeping expired sessions", "error", err)
				continue
			}
			if count > 0 {
				s.logger.Info("swept expired sessions", "count", count)
			}
		}
	}
}
