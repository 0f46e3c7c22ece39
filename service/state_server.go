package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// StateSource provides the current run state for the state endpoint. The
// snapshot must be safe to serialize from the serving goroutine.
type StateSource interface {
	StateSnapshot() any
}

// StateServer exposes the live run state as JSON, so dashboards can poll the
// front-end process instead of scraping its output.
type StateServer struct {
	ctx    context.Context
	server *http.Server
	source StateSource
}

func NewStateServer(source StateSource) *StateServer {
	return &StateServer{source: source}
}

func (s *StateServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/state", s.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	server := &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	s.server = server
	s.ctx = ctx
	return s.server.ListenAndServe()
}

func (s *StateServer) Shutdown() error {
	return s.server.Shutdown(s.ctx)
}

func (s *StateServer) Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.StateSnapshot()); err != nil {
		log.Error("failed to encode state snapshot", "err", err)
	}
}
