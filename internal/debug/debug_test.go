package debug

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		Init(LevelOff)
	})
	return &buf
}

func TestInfo_WritesJSON(t *testing.T) {
	buf := withOutput(t, LevelInfo)

	Info("connected to %s", "camera")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "connected to camera", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestLevelOff_Silent(t *testing.T) {
	buf := withOutput(t, LevelOff)

	Info("hidden")
	Live("hidden")
	Trace("hidden")

	assert.Zero(t, buf.Len())
}

func TestVerboseGatedByLevel(t *testing.T) {
	buf := withOutput(t, LevelLive)

	Verbose("not at live level")
	assert.Zero(t, buf.Len())

	Live("object %d", 42)
	assert.Contains(t, buf.String(), "object 42")
}

func TestWithComponent(t *testing.T) {
	buf := withOutput(t, LevelTrace)

	l := WithComponent("ptpip")
	l.Trace().Uint32("tx", 7).Msg("packet")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ptpip", line["component"])
	assert.EqualValues(t, 7, line["tx"])
}
