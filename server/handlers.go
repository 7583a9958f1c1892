package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vctt94/snapcall/server/serverdb"
	"github.com/vctt94/snapcall/snapgame"
)

// Request tags accepted on POST /round-state. The set is closed; anything
// else is rejected explicitly.
const (
	actionBet          = "BET"
	actionAdminStart   = "ADMIN_START"
	actionAdminResolve = "ADMIN_RESOLVE"
)

type roundStateRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type betPayload struct {
	Address     string           `json:"address"`
	Prediction  snapgame.Outcome `json:"prediction"`
	Amount      int64            `json:"amount"`
	DisplayName string           `json:"displayName"`
}

type roundStateResponse struct {
	Success bool               `json:"success"`
	State   *snapgame.Snapshot `json:"state,omitempty"`
	Message string             `json:"message,omitempty"`
	Refund  int64              `json:"refund,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeGameError(w http.ResponseWriter, snap snapgame.Snapshot, err error) {
	msg := "invalid request"
	switch {
	case errors.Is(err, snapgame.ErrGameLocked):
		msg = "game locked"
	case errors.Is(err, snapgame.ErrInvalidAmount), errors.Is(err, snapgame.ErrInvalidOutcome):
		msg = err.Error()
	case errors.Is(err, snapgame.ErrInvalidTransition):
		msg = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, roundStateResponse{State: &snap, Error: msg})
}

// handleRoundState serves the game state surface: GET returns the current
// snapshot (ticking the lazy round timer), POST applies one of the tagged
// actions and returns the updated snapshot.
func (s *Server) handleRoundState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap := s.coordinator.State()
		writeJSON(w, http.StatusOK, snap)

	case http.MethodPost:
		var req roundStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, roundStateResponse{Error: "bad request"})
			return
		}
		switch req.Type {
		case actionBet:
			s.handleBet(w, req.Payload)
		case actionAdminStart:
			snap := s.coordinator.StartRound()
			writeJSON(w, http.StatusOK, roundStateResponse{Success: true, State: &snap})
		case actionAdminResolve:
			s.handleResolve(w, req.Payload)
		default:
			writeJSON(w, http.StatusBadRequest, roundStateResponse{Error: "unknown action"})
		}

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBet(w http.ResponseWriter, payload json.RawMessage) {
	var bet betPayload
	if err := json.Unmarshal(payload, &bet); err != nil {
		writeJSON(w, http.StatusBadRequest, roundStateResponse{Error: "bad request"})
		return
	}
	if bet.Address == "" {
		writeJSON(w, http.StatusBadRequest, roundStateResponse{Error: "address required"})
		return
	}

	res, snap, err := s.coordinator.PlaceBet(bet.Address, bet.Prediction, bet.Amount, bet.DisplayName)
	if err != nil {
		s.writeGameError(w, snap, err)
		return
	}
	writeJSON(w, http.StatusOK, roundStateResponse{
		Success: true,
		State:   &snap,
		Message: res.Message,
		Refund:  res.Refund,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, payload json.RawMessage) {
	var outcome snapgame.Outcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		writeJSON(w, http.StatusBadRequest, roundStateResponse{Error: "bad request"})
		return
	}
	snap, err := s.coordinator.Resolve(outcome)
	if err != nil {
		s.writeGameError(w, snap, err)
		return
	}
	writeJSON(w, http.StatusOK, roundStateResponse{Success: true, State: &snap})
}

type balanceAdjustRequest struct {
	Address     string `json:"address"`
	Delta       *int64 `json:"delta"`
	DisplayName string `json:"displayName"`
}

type balanceAdjustResponse struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"newBalance"`
	Address    string `json:"address"`
}

// handleBalance serves the debit/credit surface over the balance store:
// GET fetches (auto-creating) an account; POST applies a delta.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		address := r.URL.Query().Get("address")
		if address == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "address required"})
			return
		}
		acct, err := s.balances.GetAccount(r.Context(), address)
		if err != nil {
			s.writeBalanceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)

	case http.MethodPost:
		var req balanceAdjustRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
			return
		}
		if req.Address == "" || req.Delta == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "address and delta required"})
			return
		}
		newBalance, err := s.balances.AdjustBalance(r.Context(), req.Address, *req.Delta, req.DisplayName)
		if err != nil {
			s.writeBalanceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, balanceAdjustResponse{
			Success:    true,
			NewBalance: newBalance,
			Address:    req.Address,
		})

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeBalanceError(w http.ResponseWriter, err error) {
	if errors.Is(err, serverdb.ErrInvalidAddress) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.log.Errorf("balance store: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
}
