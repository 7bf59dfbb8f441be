package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Vielheim/crux/internal/queue"
	"github.com/Vielheim/crux/internal/queue/queuetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeClimbPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload queue.AnalyzeClimbPayload
		wantErr bool
	}{
		{"valid", queue.AnalyzeClimbPayload{ClimbID: 1, VideoURL: "http://x/videos/a.mp4"}, false},
		{"zero id", queue.AnalyzeClimbPayload{VideoURL: "http://x"}, true},
		{"negative id", queue.AnalyzeClimbPayload{ClimbID: -3, VideoURL: "http://x"}, true},
		{"missing url", queue.AnalyzeClimbPayload{ClimbID: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			assert.Equal(t, tt.wantErr, err != nil, err)
		})
	}
}

func TestAnalyzeClimbPayload_WireFormat(t *testing.T) {
	data, err := json.Marshal(queue.AnalyzeClimbPayload{ClimbID: 12, VideoURL: "http://s3/crux/videos/a.mp4"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"climb_id":12,"video_url":"http://s3/crux/videos/a.mp4","trace":{}}`, string(data))
}

func TestEnqueueAnalysis(t *testing.T) {
	rec := queuetest.NewRecorder()

	id, err := queue.EnqueueAnalysis(context.Background(), rec, 5, "http://s3/crux/videos/a.mp4")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	jobs := rec.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobTypeAnalyzeClimb, jobs[0].Type)
	assert.Equal(t, int64(5), jobs[0].Payload.ClimbID)
	assert.Equal(t, "http://s3/crux/videos/a.mp4", jobs[0].Payload.VideoURL)
	assert.Equal(t, id, jobs[0].Job.ID)

	var decoded queue.AnalyzeClimbPayload
	require.NoError(t, jobs[0].Job.UnmarshalPayload(&decoded))
	assert.Equal(t, int64(5), decoded.ClimbID)
}

func TestEnqueueAnalysis_Error(t *testing.T) {
	rec := queuetest.NewRecorder()
	rec.Err = errors.New("redis: connection refused")

	_, err := queue.EnqueueAnalysis(context.Background(), rec, 5, "http://x")
	require.Error(t, err)
	assert.ErrorIs(t, err, rec.Err)
	assert.Contains(t, err.Error(), "climb 5")
	assert.Empty(t, rec.Jobs())
}
