// Package api implements the REST collaborator of the realtime backend:
// durable chat history (the REST leg of the client's dual-write), the
// block/report controllers, the KYC verification hook, and online-status
// lookups. Controllers that change moderation state push the corresponding
// realtime event through the notifier so any live session of the affected
// users hears about it immediately.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/kamwali/realtime/internal/history"
	"github.com/kamwali/realtime/internal/metrics"
	"github.com/kamwali/realtime/internal/report"
)

// HistoryStore is the message log the API persists to.
type HistoryStore interface {
	Save(ctx context.Context, msg *history.Message) error
	Conversation(ctx context.Context, userA, userB string, limit int, before int64) ([]history.Message, error)
	MarkRead(ctx context.Context, senderID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, readerID string) (int, error)
}

// BlockStore is the moderation store the block controllers mutate.
type BlockStore interface {
	Block(ctx context.Context, userID, targetID string) error
	Unblock(ctx context.Context, userID, targetID string) error
	BlockedBy(ctx context.Context, userID string) ([]string, error)
}

// ReportStore persists abuse reports.
type ReportStore interface {
	Create(ctx context.Context, r *report.Report) error
	CountRecent(ctx context.Context, reportedID string, window time.Duration) (int, error)
}

// Notifier delivers realtime events to a user's live connection,
// best-effort. The relay's broadcaster satisfies this.
type Notifier interface {
	Notify(targetUserID, eventName string, payload interface{})
}

// PresenceReader answers online-status lookups from the redis mirror.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID string) (bool, string, error)
}

// Server wires the REST routes to their stores and the notifier.
type Server struct {
	history  HistoryStore
	blocks   BlockStore
	reports  ReportStore
	notifier Notifier
	presence PresenceReader

	jwtSecret      []byte
	allowedOrigins []string
}

// Config holds the API server's construction parameters.
type Config struct {
	JWTSecret      string
	AllowedOrigins []string
}

// NewServer creates a Server. An empty JWT secret disables authentication
// (development only; a warning is logged).
func NewServer(config Config, historyStore HistoryStore, blocks BlockStore, reports ReportStore, notifier Notifier, presence PresenceReader) *Server {
	if config.JWTSecret == "" {
		log.Printf("api: JWT_SECRET not set, authentication disabled")
	}
	return &Server{
		history:        historyStore,
		blocks:         blocks,
		reports:        reports,
		notifier:       notifier,
		presence:       presence,
		jwtSecret:      []byte(config.JWTSecret),
		allowedOrigins: config.AllowedOrigins,
	}
}

// Handler builds the full HTTP handler: routes, CORS, auth.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Unauthenticated operational endpoints.
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/messages", s.handleCreateMessage).Methods(http.MethodPost)
	v1.HandleFunc("/messages/read", s.handleMarkRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{userA}/{userB}", s.handleConversation).Methods(http.MethodGet)

	v1.HandleFunc("/blocks", s.handleCreateBlock).Methods(http.MethodPost)
	v1.HandleFunc("/blocks", s.handleDeleteBlock).Methods(http.MethodDelete)
	v1.HandleFunc("/users/{userID}/blocks", s.handleListBlocks).Methods(http.MethodGet)

	v1.HandleFunc("/reports", s.handleCreateReport).Methods(http.MethodPost)
	v1.HandleFunc("/kyc/{userID}/verify", s.handleKYCVerify).Methods(http.MethodPost)

	v1.HandleFunc("/users/{userID}/online", s.handleOnline).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID}/unread", s.handleUnreadCount).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes v as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: response encode failed: %v", err)
	}
}

// respondError writes a JSON error body.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
