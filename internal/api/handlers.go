package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kamwali/realtime/internal/history"
	"github.com/kamwali/realtime/internal/metrics"
	"github.com/kamwali/realtime/internal/protocol"
	"github.com/kamwali/realtime/internal/report"
)

// ---------------------------------------------------------------------------
// Messages / history
// ---------------------------------------------------------------------------

// handleCreateMessage persists a chat message. This is the durable leg of
// the client's dual-write; the realtime emit happens over the relay in a
// separate call and neither waits for the other.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID   protocol.UserID `json:"senderId"`
		ReceiverID protocol.UserID `json:"receiverId"`
		Text       string          `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SenderID == "" || req.ReceiverID == "" {
		respondError(w, http.StatusBadRequest, "senderId and receiverId are required")
		return
	}

	if err := history.ValidateBody(req.Text); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := &history.Message{
		SenderID:   req.SenderID.String(),
		ReceiverID: req.ReceiverID.String(),
		Body:       req.Text,
	}
	if err := s.history.Save(r.Context(), msg); err != nil {
		log.Printf("api: save message failed sender=%s receiver=%s: %v", msg.SenderID, msg.ReceiverID, err)
		respondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userA, userB := vars["userA"], vars["userB"]

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	messages, err := s.history.Conversation(r.Context(), userA, userB, limit, before)
	if err != nil {
		log.Printf("api: conversation lookup failed %s/%s: %v", userA, userB, err)
		respondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if messages == nil {
		messages = []history.Message{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID protocol.UserID `json:"senderId"`
		ReaderID protocol.UserID `json:"readerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SenderID == "" || req.ReaderID == "" {
		respondError(w, http.StatusBadRequest, "senderId and readerId are required")
		return
	}

	updated, err := s.history.MarkRead(r.Context(), req.SenderID.String(), req.ReaderID.String())
	if err != nil {
		log.Printf("api: mark read failed sender=%s reader=%s: %v", req.SenderID, req.ReaderID, err)
		respondError(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	count, err := s.history.UnreadCount(r.Context(), userID)
	if err != nil {
		log.Printf("api: unread count failed user=%s: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "failed to count unread messages")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// handleCreateBlock records a block and pushes userBlocked to both parties'
// channels so open chat screens update immediately. The notification is
// best-effort: a relay hiccup never fails the block itself.
func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   protocol.UserID `json:"userId"`
		TargetID protocol.UserID `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, targetID := req.UserID.String(), req.TargetID.String()
	if userID == "" || targetID == "" {
		respondError(w, http.StatusBadRequest, "userId and targetId are required")
		return
	}
	if userID == targetID {
		respondError(w, http.StatusBadRequest, "cannot block yourself")
		return
	}

	if err := s.blocks.Block(r.Context(), userID, targetID); err != nil {
		log.Printf("api: block failed user=%s target=%s: %v", userID, targetID, err)
		respondError(w, http.StatusInternalServerError, "failed to create block")
		return
	}

	payload := protocol.UserBlockedMsg{UserID: userID, TargetID: targetID}
	s.notifier.Notify(userID, protocol.TypeUserBlocked, payload)
	s.notifier.Notify(targetID, protocol.TypeUserBlocked, payload)

	respondJSON(w, http.StatusCreated, map[string]string{"userId": userID, "targetId": targetID})
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   protocol.UserID `json:"userId"`
		TargetID protocol.UserID `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, targetID := req.UserID.String(), req.TargetID.String()
	if userID == "" || targetID == "" {
		respondError(w, http.StatusBadRequest, "userId and targetId are required")
		return
	}

	if err := s.blocks.Unblock(r.Context(), userID, targetID); err != nil {
		log.Printf("api: unblock failed user=%s target=%s: %v", userID, targetID, err)
		respondError(w, http.StatusInternalServerError, "failed to remove block")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"userId": userID, "targetId": targetID})
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	targets, err := s.blocks.BlockedBy(r.Context(), userID)
	if err != nil {
		log.Printf("api: list blocks failed user=%s: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "failed to list blocks")
		return
	}
	if targets == nil {
		targets = []string{}
	}

	respondJSON(w, http.StatusOK, map[string][]string{"blocked": targets})
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// handleCreateReport files an abuse report, notifies both parties, and
// checks the flag-for-review threshold. Flagging is log + metric only;
// account suspension stays with the profile service.
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReporterID protocol.UserID `json:"reporterId"`
		TargetID   protocol.UserID `json:"targetId"`
		Reason     string          `json:"reason"`
		Details    string          `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reporterID, targetID := req.ReporterID.String(), req.TargetID.String()
	if reporterID == "" || targetID == "" {
		respondError(w, http.StatusBadRequest, "reporterId and targetId are required")
		return
	}
	if !report.ValidReason(req.Reason) {
		respondError(w, http.StatusBadRequest, "invalid reason")
		return
	}

	err := s.reports.Create(r.Context(), &report.Report{
		ReporterID: reporterID,
		ReportedID: targetID,
		Reason:     req.Reason,
		Details:    req.Details,
	})
	if err != nil {
		log.Printf("api: report failed reporter=%s target=%s: %v", reporterID, targetID, err)
		respondError(w, http.StatusInternalServerError, "failed to create report")
		return
	}

	payload := protocol.UserReportedMsg{ReporterID: reporterID, TargetID: targetID}
	s.notifier.Notify(reporterID, protocol.TypeUserReported, payload)
	s.notifier.Notify(targetID, protocol.TypeUserReported, payload)

	count, err := s.reports.CountRecent(r.Context(), targetID, report.ReviewWindow)
	if err != nil {
		log.Printf("api: report count failed target=%s: %v", targetID, err)
	} else if count >= report.ReviewThreshold {
		log.Printf("api: user=%s flagged for review (%d reports in %s)", targetID, count, report.ReviewWindow)
		metrics.ReportsFlagged.Inc()
	}

	respondJSON(w, http.StatusCreated, map[string]string{"reporterId": reporterID, "targetId": targetID})
}

// ---------------------------------------------------------------------------
// KYC
// ---------------------------------------------------------------------------

// handleKYCVerify relays a KYC decision from the profile service to the
// affected user's live session. The profile service owns the actual KYC
// state; this endpoint only broadcasts the outcome.
func (s *Server) handleKYCVerify(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req struct {
		Status string          `json:"status"`
		User   json.RawMessage `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "status is required")
		return
	}

	s.notifier.Notify(userID, protocol.TypeKYCVerified, protocol.KYCVerifiedMsg{
		UserID: userID,
		Status: req.Status,
		User:   req.User,
	})

	respondJSON(w, http.StatusOK, map[string]string{"userId": userID, "status": req.Status})
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	online, server, err := s.presence.IsOnline(r.Context(), userID)
	if err != nil {
		log.Printf("api: online lookup failed user=%s: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "failed to check online status")
		return
	}

	resp := map[string]interface{}{"userId": userID, "online": online}
	if online {
		resp["server"] = server
	}
	respondJSON(w, http.StatusOK, resp)
}
