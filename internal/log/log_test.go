package log

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevelInfo()

	tests := []struct {
		name    string
		want    zerolog.Level
		wantErr bool
	}{
		{name: "", want: zerolog.InfoLevel},
		{name: "debug", want: zerolog.DebugLevel},
		{name: "WARN", want: zerolog.WarnLevel},
		{name: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestSetOutput(t *testing.T) {
	defer SetOutput(os.Stderr, false)
	defer SetLevelInfo()

	var buf bytes.Buffer
	SetOutput(&buf, false)
	SetLevelInfo()

	Log.Debug().Msg("hidden")
	Log.Info().Str("mod", "widescreen").Msg("已应用")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"mod":"widescreen"`)
}
