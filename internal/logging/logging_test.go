package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "mailtrack-api", "json", "info").Info("open recorded", "tracking_id", "t1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "mailtrack-api", line["service"])
	assert.Equal(t, "t1", line["tracking_id"])
	assert.Equal(t, "open recorded", line["msg"])
}

func TestNew_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "svc", "text", "warn")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "service=svc")
}

func TestNew_UnknownFormatFallsBack(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "svc", "xml", "")

	first := strings.SplitN(buf.String(), "\n", 2)[0]
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(first), &line))
	assert.Equal(t, "xml", line["format"])
}
