package bot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/polyctf/orgbot/internal/logging"
	"github.com/polyctf/orgbot/internal/transcript"
)

const maxCommandBody = 64 << 10

// Server exposes the command endpoint plus health and export status.
type Server struct {
	log        logging.Logger
	addr       string
	secret     []byte
	dispatcher *Dispatcher
	exporter   *transcript.Exporter
}

func NewServer(log logging.Logger, addr, secret string, dispatcher *Dispatcher, exporter *transcript.Exporter) *Server {
	return &Server{
		log:        log,
		addr:       addr,
		secret:     []byte(secret),
		dispatcher: dispatcher,
		exporter:   exporter,
	}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/commands", s.handleCommand)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "command endpoint listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.exporter.Jobs()})
}

// handleCommand verifies the body signature, decodes the command and
// returns the dispatcher's reply. Signature verification happens before
// any decoding; an unsigned request learns nothing about the payload
// format.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Signature")) {
		s.log.Warn(r.Context(), "rejected unsigned command request", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		http.Error(w, "invalid command payload", http.StatusBadRequest)
		return
	}

	reply := s.dispatcher.Dispatch(r.Context(), cmd)
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) verifySignature(body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
