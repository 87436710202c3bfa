package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel("info")

	WithFields(logrus.Fields{"image": "a.tif", "tile": "0/1"}).Warn("tile skipped")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "a.tif", entry["image"])
	assert.Equal(t, "0/1", entry["tile"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "tile skipped", entry["msg"])
}

func TestSetLevel(t *testing.T) {
	SetLevel("debug")
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	SetLevel("nonsense")
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}
