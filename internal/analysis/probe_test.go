package analysis

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/Vielheim/crux/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "12.480000", "size": "5242880", "bit_rate": "3360000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseProbeOutput(t *testing.T) {
	res, err := parseProbeOutput([]byte(sampleProbe))
	require.NoError(t, err)

	assert.Equal(t, "mov", res["container"])
	assert.Equal(t, "h264", res["video_codec"])
	assert.Equal(t, 1920, res["width"])
	assert.Equal(t, 1080, res["height"])
	assert.InDelta(t, 29.97, res["frame_rate"].(float64), 0.01)
	assert.InDelta(t, 12.48, res["duration_seconds"].(float64), 0.001)
	assert.Equal(t, int64(5242880), res["size_bytes"])
	assert.Equal(t, true, res["has_audio"])
	assert.Equal(t, "aac", res["audio_codec"])
}

func TestParseProbeOutput_Errors(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	assert.Error(t, err)

	_, err = parseProbeOutput([]byte(`{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{}}`))
	assert.ErrorContains(t, err, "no video stream")
}

func TestParseFrameRate(t *testing.T) {
	assert.Equal(t, 30.0, parseFrameRate("30/1"))
	assert.Equal(t, 0.0, parseFrameRate("30"))
	assert.Equal(t, 0.0, parseFrameRate("30/0"))
	assert.Equal(t, 0.0, parseFrameRate("a/b"))
}

func newTestProbe(t *testing.T, store Downloader, out string, probeErr error) (*ProbeAnalyzer, *string) {
	t.Helper()
	var probedPath string
	p := &ProbeAnalyzer{
		tempDir: t.TempDir(),
		store:   store,
	}
	p.probe = func(ctx context.Context, path string) ([]byte, error) {
		probedPath = path
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NotEmpty(t, data)
		return []byte(out), probeErr
	}
	return p, &probedPath
}

func TestProbeAnalyzer_Analyze(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	_, err := store.Put(ctx, "videos/a.mp4", strings.NewReader("fake mp4 bytes"), "video/mp4", 14)
	require.NoError(t, err)

	p, probed := newTestProbe(t, store, sampleProbe, nil)
	assert.Equal(t, "probe", p.Name())

	res, err := p.Analyze(ctx, Video{ClimbID: 1, StorageKey: "videos/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "h264", res["video_codec"])
	assert.True(t, strings.HasSuffix(*probed, ".mp4"))

	_, statErr := os.Stat(*probed)
	assert.True(t, os.IsNotExist(statErr), "temp input is removed after analysis")
}

func TestProbeAnalyzer_Failures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	_, err := store.Put(ctx, "videos/a.mov", strings.NewReader("moov"), "video/quicktime", 4)
	require.NoError(t, err)
	_, err = store.Put(ctx, "videos/empty.mp4", strings.NewReader(""), "video/mp4", 0)
	require.NoError(t, err)

	t.Run("no storage key", func(t *testing.T) {
		p, _ := newTestProbe(t, store, sampleProbe, nil)
		_, err := p.Analyze(ctx, Video{ClimbID: 1})
		assert.Error(t, err)
	})

	t.Run("missing blob", func(t *testing.T) {
		p, _ := newTestProbe(t, store, sampleProbe, nil)
		_, err := p.Analyze(ctx, Video{ClimbID: 1, StorageKey: "videos/missing.mp4"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("empty blob", func(t *testing.T) {
		p, _ := newTestProbe(t, store, sampleProbe, nil)
		_, err := p.Analyze(ctx, Video{ClimbID: 1, StorageKey: "videos/empty.mp4"})
		assert.ErrorContains(t, err, "empty video")
	})

	t.Run("ffprobe error", func(t *testing.T) {
		p, _ := newTestProbe(t, store, "", errors.New("exit status 1"))
		_, err := p.Analyze(ctx, Video{ClimbID: 1, StorageKey: "videos/a.mov"})
		assert.ErrorContains(t, err, "ffprobe failed")
	})
}

func TestNewProbeAnalyzer_MissingBinary(t *testing.T) {
	_, err := NewProbeAnalyzer("/nonexistent/ffprobe", "", storage.NewMemoryStorage())
	assert.ErrorIs(t, err, ErrFFprobeNotFound)
}
