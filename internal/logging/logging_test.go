package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		name string
		do   func(t *testing.T, out *bytes.Buffer)
	}{
		{
			name: "debug output is hidden by default",
			do: func(t *testing.T, out *bytes.Buffer) {
				SetDebug(false)
				Debugf("hidden %d", 1)
				Debug("hidden too", "key", "value")
				require.Empty(t, out.String())
			},
		},
		{
			name: "debug output is shown when enabled",
			do: func(t *testing.T, out *bytes.Buffer) {
				SetDebug(true)
				Debug("resolved", "id", "abc")
				require.Contains(t, out.String(), "level=DEBUG")
				require.Contains(t, out.String(), "id=abc")
			},
		},
		{
			name: "info and errors carry their attributes",
			do: func(t *testing.T, out *bytes.Buffer) {
				SetDebug(false)
				Info("created", "files", 3)
				Error("failed", errors.New("boom"))
				require.Contains(t, out.String(), "files=3")
				require.Contains(t, out.String(), "error=boom")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			SetOutput(&out)
			t.Cleanup(func() {
				SetOutput(os.Stderr)
				SetDebug(false)
			})
			tt.do(t, &out)
		})
	}
}
