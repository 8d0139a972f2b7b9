// Package server adapts the directory onto an LDAPv3 wire server.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	nldap "github.com/nmcclain/ldap"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// Config holds the listener settings.
type Config struct {
	Listen         string        `yaml:"listen" default:":1389"`
	RequestTimeout time.Duration `yaml:"requestTimeout" default:"10s"`
}

// OperationObserver receives the outcome of every bind, search and modify.
type OperationObserver interface {
	ObserveOperation(operation string, err error, duration time.Duration)
}

// Server serves one Directory over LDAP.
type Server struct {
	directory *ldap.Directory
	config    Config
	logger    ldap.Logger
	observer  OperationObserver

	ldap     *nldap.Server
	quit     chan bool
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New creates a server for directory. observer may be nil.
func New(directory *ldap.Directory, cfg Config, logger ldap.Logger, observer OperationObserver) *Server {
	if logger == nil {
		logger = ldap.NewNullLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		directory: directory,
		config:    cfg,
		logger:    logger,
		observer:  observer,
		ldap:      nldap.NewServer(),
		quit:      make(chan bool, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	h := &handler{server: s}
	s.ldap.BindFunc("", h)
	s.ldap.SearchFunc("", h)
	s.ldap.ModifyFunc("", h)
	s.ldap.CloseFunc("", h)
	s.ldap.QuitChannel(s.quit)

	return s
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Serving LDAP", map[string]any{
		"address": ln.Addr().String(),
		"root_dn": s.directory.Layout().RootDN().String(),
	})
	return s.ldap.Serve(ln)
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and cancels in-flight requests.
// It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdown.Do(func() {
		s.cancel()
		s.quit <- true
		s.logger.Info("LDAP server stopped", nil)
	})
}

// requestContext bounds one request by the configured timeout.
func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.config.RequestTimeout)
}

func (s *Server) observe(operation string, err error, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveOperation(operation, err, time.Since(start))
	}
}
