package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const ProbeName = "probe"

var ErrFFprobeNotFound = errors.New("analysis: ffprobe not found")

// Downloader is the slice of the blob store the probe analyzer needs.
type Downloader interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// ProbeAnalyzer downloads the climb video and reports its container and
// stream metadata via ffprobe.
type ProbeAnalyzer struct {
	ffprobePath string
	tempDir     string
	store       Downloader
	probe       func(ctx context.Context, path string) ([]byte, error)
}

func NewProbeAnalyzer(ffprobePath, tempDir string, store Downloader) (*ProbeAnalyzer, error) {
	if _, err := exec.LookPath(ffprobePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFprobeNotFound, err)
	}
	p := &ProbeAnalyzer{
		ffprobePath: ffprobePath,
		tempDir:     tempDir,
		store:       store,
	}
	p.probe = p.runFFprobe
	return p, nil
}

func (p *ProbeAnalyzer) Name() string { return ProbeName }

func (p *ProbeAnalyzer) Analyze(ctx context.Context, v Video) (Result, error) {
	if v.StorageKey == "" {
		return nil, errors.New("probe: video has no storage key")
	}

	dir, err := os.MkdirTemp(p.tempDir, "crux-probe-*")
	if err != nil {
		return nil, fmt.Errorf("probe: create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "input"+filepath.Ext(v.StorageKey))
	if err := p.fetch(ctx, v.StorageKey, path); err != nil {
		return nil, err
	}

	out, err := p.probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeOutput(out)
}

func (p *ProbeAnalyzer) fetch(ctx context.Context, key, path string) error {
	rc, err := p.store.Download(ctx, key)
	if err != nil {
		return fmt.Errorf("probe: download %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("probe: create input file: %w", err)
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(f, rc)
	if err != nil {
		return fmt.Errorf("probe: write input file: %w", err)
	}
	if n == 0 {
		return errors.New("probe: empty video")
	}
	return nil
}

func (p *ProbeAnalyzer) runFFprobe(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	return cmd.Output()
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
		Name     string `json:"format_name"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (Result, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	res := Result{
		"container": strings.Split(probe.Format.Name, ",")[0],
		"has_audio": false,
	}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		res["duration_seconds"] = d
	}
	if s, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
		res["size_bytes"] = s
	}
	if b, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		res["bitrate"] = b
	}

	hasVideo := false
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			hasVideo = true
			res["video_codec"] = stream.CodecName
			res["width"] = stream.Width
			res["height"] = stream.Height
			if fps := parseFrameRate(stream.RFrameRate); fps > 0 {
				res["frame_rate"] = fps
			}
		case "audio":
			res["audio_codec"] = stream.CodecName
			res["has_audio"] = true
		}
	}

	if !hasVideo {
		return nil, errors.New("probe: no video stream found")
	}
	return res, nil
}

// parseFrameRate reads ffprobe's "30000/1001" form.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
