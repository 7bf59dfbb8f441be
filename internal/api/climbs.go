package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Vielheim/crux/internal/apperror"
	"github.com/Vielheim/crux/internal/db"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type ClimbResponse struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	VideoURL        string          `json:"video_url"`
	Status          string          `json:"status"`
	AnalysisResults json.RawMessage `json:"analysis_results"`
	ErrorMessage    *string         `json:"error_message"`
	Attempts        int32           `json:"attempts"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func climbToResponse(c db.Climb) ClimbResponse {
	resp := ClimbResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		VideoURL:  c.VideoURL,
		Status:    string(c.Status),
		Attempts:  c.Attempts,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if len(c.AnalysisResults) > 0 {
		resp.AnalysisResults = c.AnalysisResults
	} else {
		resp.AnalysisResults = json.RawMessage("null")
	}
	if c.ErrorMessage.Valid {
		msg := c.ErrorMessage.String
		resp.ErrorMessage = &msg
	}
	return resp
}

func getClimbHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "Invalid climb id"))
			return
		}

		climb, err := cfg.Queries.GetClimb(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apperror.WriteJSON(w, r, apperror.WithMessage(apperror.ErrNotFound, "Climb not found"))
				return
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		writeJSON(w, http.StatusOK, climbToResponse(climb))
	}
}

func listUserClimbsHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "Invalid user id"))
			return
		}

		limit, offset, err := pagination(r)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, err.Error()))
			return
		}

		if _, err := cfg.Queries.GetUser(r.Context(), userID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apperror.WriteJSON(w, r, apperror.WithMessage(apperror.ErrNotFound, "User not found"))
				return
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		climbs, err := cfg.Queries.ListClimbsByUser(r.Context(), db.ListClimbsByUserParams{
			UserID: userID,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		items := make([]ClimbResponse, 0, len(climbs))
		for _, c := range climbs {
			items = append(items, climbToResponse(c))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"climbs": items,
			"limit":  limit,
			"offset": offset,
		})
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func pagination(r *http.Request) (limit, offset int32, err error) {
	limit = defaultPageLimit

	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 1 || l > maxPageLimit {
			return 0, 0, fmt.Errorf("invalid limit")
		}
		limit = int32(l)
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		o, err := strconv.Atoi(s)
		if err != nil || o < 0 {
			return 0, 0, fmt.Errorf("invalid offset")
		}
		offset = int32(o)
	}

	return limit, offset, nil
}
