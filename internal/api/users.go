package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/Vielheim/crux/internal/apperror"
	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/logger"
)

const testUserAttempts = 5

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func createUserHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "Invalid JSON request body"))
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		req.Email = strings.TrimSpace(req.Email)
		if req.Username == "" || req.Email == "" {
			apperror.WriteJSON(w, r, apperror.WithMessage(apperror.ErrInvalidInput, "username and email are required"))
			return
		}
		if !strings.Contains(req.Email, "@") {
			apperror.WriteJSON(w, r, apperror.WithMessage(apperror.ErrInvalidInput, "Invalid email"))
			return
		}

		user, err := cfg.Queries.CreateUser(r.Context(), db.CreateUserParams{
			Username: req.Username,
			Email:    req.Email,
		})
		if err != nil {
			apperror.WriteJSON(w, r, createUserError(err))
			return
		}

		logger.FromContext(r.Context()).Info("user created", "user_id", user.ID, "username", user.Username)
		writeJSON(w, http.StatusCreated, user)
	}
}

func listUsersHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pagination(r)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, err.Error()))
			return
		}

		users, err := cfg.Queries.ListUsers(r.Context(), db.ListUsersParams{Limit: limit, Offset: offset})
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}
		if users == nil {
			users = []db.User{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"users":  users,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// createTestUserHandler seeds a throwaway climber account. Random names can
// collide, so a duplicate is retried with a fresh number.
func createTestUserHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			user db.User
			err  error
		)
		for range testUserAttempts {
			name := fmt.Sprintf("climber_%d", 1000+rand.IntN(9000))
			user, err = cfg.Queries.CreateUser(r.Context(), db.CreateUserParams{
				Username: name,
				Email:    name + "@crux.com",
			})
			if !errors.Is(err, db.ErrDuplicate) {
				break
			}
		}
		if err != nil {
			apperror.WriteJSON(w, r, createUserError(err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "success",
			"created_user": user,
		})
	}
}

func listTestUsersHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := cfg.Queries.ListUsers(r.Context(), db.ListUsersParams{Limit: maxPageLimit})
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}
		if users == nil {
			users = []db.User{}
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func createUserError(err error) error {
	if errors.Is(err, db.ErrDuplicate) {
		return apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "username or email already exists")
	}
	return apperror.Wrap(err, apperror.ErrInternal)
}
