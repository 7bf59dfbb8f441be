package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vielheim/crux/internal/db"
	"github.com/Vielheim/crux/internal/health"
	"github.com/Vielheim/crux/internal/metrics"
	"github.com/Vielheim/crux/internal/tracing"
	"github.com/Vielheim/crux/internal/upload"
)

const defaultMaxUploadSize = 500 * 1024 * 1024

// Querier is the read and user-management slice of the record store the HTTP
// surface needs. Writes on the climb lifecycle go through the upload service.
type Querier interface {
	CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error)
	GetUser(ctx context.Context, id int64) (db.User, error)
	ListUsers(ctx context.Context, arg db.ListUsersParams) ([]db.User, error)
	GetClimb(ctx context.Context, id int64) (db.Climb, error)
	ListClimbsByUser(ctx context.Context, arg db.ListClimbsByUserParams) ([]db.Climb, error)
}

type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
}

type Config struct {
	Queries       Querier
	Uploader      Uploader
	Health        *health.Checker
	MaxUploadSize int64
	ServiceName   string
}

func NewRouter(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	checker := cfg.Health
	if checker == nil {
		checker = health.NewChecker()
	}

	mux.HandleFunc("GET /health", health.HealthHandler(checker))
	mux.HandleFunc("GET /health/live", health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", health.ReadinessHandler(checker))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /{$}", rootHandler)
	mux.HandleFunc("POST /upload-video", uploadHandler(cfg))

	mux.HandleFunc("GET /climbs/{id}", getClimbHandler(cfg))
	mux.HandleFunc("GET /users/{id}/climbs", listUserClimbsHandler(cfg))

	mux.HandleFunc("POST /users", createUserHandler(cfg))
	mux.HandleFunc("GET /users", listUsersHandler(cfg))

	mux.HandleFunc("POST /test/user", createTestUserHandler(cfg))
	mux.HandleFunc("GET /test/users", listTestUsersHandler(cfg))

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "crux-api"
	}

	var handler http.Handler = mux
	handler = metrics.HTTPMetricsMiddleware(handler)
	handler = SecurityHeaders(handler)
	handler = RequestLogger(handler)
	handler = Recovery(handler)
	handler = RequestID(handler)
	handler = tracing.HTTPMiddleware(serviceName)(handler)
	return handler
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Crux Backend is running!"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
