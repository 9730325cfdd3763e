package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pal-backend/internal/config"
)

func TestInit(t *testing.T) {
	t.Cleanup(func() { Set(zap.NewNop()) })

	tests := []struct {
		name    string
		cfg     func(t *testing.T) *config.Config
		wantErr bool
	}{
		{
			name: "console",
			cfg: func(*testing.T) *config.Config {
				return &config.Config{LogLevel: "info"}
			},
		},
		{
			name: "rotating file",
			cfg: func(t *testing.T) *config.Config {
				return &config.Config{
					LogLevel:      "debug",
					LogFile:       filepath.Join(t.TempDir(), "pal.log"),
					LogMaxSizeMB:  1,
					LogMaxBackups: 1,
					LogMaxAgeDays: 1,
				}
			},
		},
		{
			name: "unknown level",
			cfg: func(*testing.T) *config.Config {
				return &config.Config{LogLevel: "chatty"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg(t)
			l, err := Init(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Same(t, l, L())

			l.Info("hello")
			_ = l.Sync()

			if cfg.LogFile != "" {
				raw, err := os.ReadFile(cfg.LogFile)
				require.NoError(t, err)
				assert.Contains(t, string(raw), `"msg":"hello"`)
			}
		})
	}
}
