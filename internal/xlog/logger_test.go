// SPDX-License-Identifier: MIT

package xlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureSetsServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Service: "novywave-core", Version: "v0.1.0", Level: "debug"})

	WithComponent("timeline").Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "novywave-core", entry["service"])
	require.Equal(t, "v0.1.0", entry["version"])
	require.Equal(t, "timeline", entry["component"])
	require.Equal(t, "hello", entry["message"])
}

func TestFromContextFallsBackToBase(t *testing.T) {
	l := FromContext(nil)
	require.NotNil(t, l)
}
