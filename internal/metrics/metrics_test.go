package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vielheim/crux/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/climbs/42", "/climbs/{id}"},
		{"/users/7/climbs", "/users/{id}/climbs"},
		{"/upload-video", "/upload-video"},
		{"/files/550e8400-e29b-41d4-a716-446655440000", "/files/{id}"},
		{"/", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	h := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/upload-video", "202"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/upload-video", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/upload-video", "202"))

	assert.Equal(t, before+1, after)
	assert.Equal(t, 0.0, testutil.ToFloat64(HTTPRequestsInFlight))
}

func TestPrometheusCollector(t *testing.T) {
	c := NewPrometheusCollector()

	c.JobStarted("analyze_climb", "default")
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkerPoolActiveJobs))

	before := testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("analyze_climb", "default", "success"))
	c.JobCompleted("analyze_climb", "default", time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(WorkerPoolActiveJobs))
	assert.Equal(t, before+1, testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("analyze_climb", "default", "success")))

	c.JobStarted("analyze_climb", "default")
	c.JobFailed("analyze_climb", "default", time.Second)
	c.JobRetrying("analyze_climb", "default", 2)
	assert.Equal(t, 0.0, testutil.ToFloat64(WorkerPoolActiveJobs))
	assert.GreaterOrEqual(t, testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("analyze_climb", "default", "retry")), 1.0)
}

func TestInstrumentedStorage(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	s := NewInstrumentedStorage(mem)

	putOK := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("put", "success"))
	ref, err := s.Put(ctx, "videos/a.mp4", strings.NewReader("abcd"), "video/mp4", 4)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Equal(t, putOK+1, testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("put", "success")))

	downBytes := testutil.ToFloat64(StorageBytesTotal.WithLabelValues("download"))
	rc, err := s.Download(ctx, "videos/a.mp4")
	require.NoError(t, err)
	_, _ = io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, downBytes+4, testutil.ToFloat64(StorageBytesTotal.WithLabelValues("download")))

	mem.PutErr = errors.New("offline")
	putErr := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("put", "error"))
	_, err = s.Put(ctx, "videos/b.mp4", strings.NewReader("x"), "video/mp4", 1)
	require.Error(t, err)
	assert.Equal(t, putErr+1, testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("put", "error")))

	require.NoError(t, s.Delete(ctx, "videos/a.mp4"))
	assert.NoError(t, s.HealthCheck(ctx))
}

func TestSetAppInfo(t *testing.T) {
	SetAppInfo("1.0.0", "test", "api")
	assert.Equal(t, 1.0, testutil.ToFloat64(AppUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(AppInfo.WithLabelValues("1.0.0", "test", "api")))

	SetWorkerPoolSize(8)
	assert.Equal(t, 8.0, testutil.ToFloat64(WorkerPoolSize))
}
