package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"group-chat-service/internal/chat"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// New builds the endpoint table around the chat service and returns a
// Server. JSON endpoints are guarded by enforcePostJson; the multipart
// send endpoint only enforces the method; /metrics is plain GET.
func New(logger *zap.Logger, svc *chat.Service, maxUploadBytes int64, opts ...Option) (*Server, error) {
	h := &handler{
		logger:         logger.Sugar(),
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
	}

	c := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:9000"},
		handlers: map[string]http.Handler{
			"/users/add":        enforcePostJson(http.HandlerFunc(h.createUser)),
			"/rooms/add":        enforcePostJson(http.HandlerFunc(h.createRoom)),
			"/rooms/get":        enforcePostJson(http.HandlerFunc(h.roomsByUser)),
			"/rooms/view":       enforcePostJson(http.HandlerFunc(h.roomView)),
			"/rooms/leave":      enforcePostJson(http.HandlerFunc(h.leaveRoom)),
			"/rooms/invite":     enforcePostJson(http.HandlerFunc(h.invite)),
			"/rooms/candidates": enforcePostJson(http.HandlerFunc(h.inviteCandidates)),
			"/messages/get":     enforcePostJson(http.HandlerFunc(h.messagesSince)),
			"/messages/delete":  enforcePostJson(http.HandlerFunc(h.deleteMessage)),
			"/messages/send":    enforcePost(http.HandlerFunc(h.sendMessage)),
			"/metrics":          promhttp.Handler(),
		},
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	mux := http.NewServeMux()
	for pattern, handler := range c.handlers {
		mux.Handle(pattern, handler)
	}
	c.httpServer.Handler = recordMetrics(log(mux, logger))

	return &Server{
		logger:        logger.Sugar(),
		httpServer:    c.httpServer,
		afterShutdown: c.afterShutdown,
	}, nil
}

// Start calls ListenAndServe on the http.Server instance inside the
// Server struct and implements graceful shutdown via a goroutine
// waiting for SIGINT
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
