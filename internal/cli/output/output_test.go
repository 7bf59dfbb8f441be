package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_Modes(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantOut bool
	}{
		{"default", nil, true},
		{"quiet", []Option{WithQuiet(true)}, false},
		{"json", []Option{WithJSON(true)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := New(append(tt.opts, WithOutput(&buf), WithNoColor(true))...)

			p.Printf("climb %d\n", 7)
			p.Success("uploaded")
			p.Info("queued")
			p.KeyValue("Status", "PENDING")

			if tt.wantOut {
				assert.Contains(t, buf.String(), "climb 7")
				assert.Contains(t, buf.String(), "uploaded")
				assert.Contains(t, buf.String(), "Status: PENDING")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestPrinter_ErrorIgnoresQuiet(t *testing.T) {
	var errBuf bytes.Buffer
	p := New(WithErrOutput(&errBuf), WithQuiet(true), WithNoColor(true))

	p.Error("climb %d not found", 9)
	assert.Contains(t, errBuf.String(), "climb 9 not found")
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithJSON(true))

	require.NoError(t, p.JSON(map[string]any{"id": 7, "status": "PENDING"}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "PENDING", got["status"])
}

func TestStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "PROCESSING", "COMPLETED", "FAILED"} {
		assert.Contains(t, Status(s), s)
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"ID", "STATUS"}, false)
	table.Append("1", "COMPLETED")
	table.Append("12", "PENDING")
	table.Render()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID  STATUS", lines[0])
	assert.Equal(t, "1   COMPLETED", lines[1])
	assert.Equal(t, "12  PENDING", lines[2])
}

func TestTable_Quiet(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"ID"}, true)
	table.Append("1")
	table.Render()
	assert.Empty(t, buf.String())
}

func TestByteProgress_Quiet(t *testing.T) {
	p := NewByteProgress(10, "uploading", true)
	n, err := p.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, p.Written())
	p.Finish()
}

func TestSpinner_Quiet(t *testing.T) {
	s := NewSpinner("waiting", true)
	s.Update("still waiting")
	s.Finish()
	assert.GreaterOrEqual(t, s.Duration().Nanoseconds(), int64(0))
}
