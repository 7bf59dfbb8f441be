package client

import (
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type UploadResult struct {
	ID       int64  `json:"id"`
	VideoURL string `json:"video_url"`
	Status   string `json:"status"`
}

type Climb struct {
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

// Terminal reports whether the climb can no longer change.
func (c *Climb) Terminal() bool {
	return c.Status == "COMPLETED" || c.Status == "FAILED"
}

type listUsersResponse struct {
	Users []User `json:"users"`
}

type listClimbsResponse struct {
	Climbs []Climb `json:"climbs"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// APIError is a non-2xx answer from the Crux API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}
