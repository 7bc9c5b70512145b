package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/authgate/internal/config"
	"github.com/vyrodovalexey/authgate/internal/observability"
)

const testConfigYAML = `
authRequest: /auth
servers:
  - name: main
    listen: "127.0.0.1:0"
    locations:
      - path: /
        proxyPass: app
      - path: /auth
        internal: true
        return:
          status: 204
upstreams:
  - name: app
    url: http://127.0.0.1:9000
logging:
  level: error
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "authgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "authgate "+version)
	assert.Contains(t, out, "Go version:")
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
		wantOut string
	}{
		{
			name:    "valid",
			content: testConfigYAML,
			wantOut: "1 server(s), 2 location(s), 1 upstream(s)",
		},
		{
			name: "duplicate directive",
			content: `
servers:
  - name: main
    listen: "127.0.0.1:0"
    authRequest: /auth
    authRequest: /other
    locations:
      - path: /
        return:
          status: 200
`,
			wantErr: "is duplicate",
		},
		{
			name: "unknown auth location",
			content: `
authRequest: /auth
servers:
  - name: main
    listen: "127.0.0.1:0"
    locations:
      - path: /app
        return:
          status: 200
`,
			wantErr: "matches no location",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := execute(t, "validate", "--config", writeConfig(t, tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOut)
		})
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is invalid")
}

func TestLogConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Logging: config.LoggingConfig{Level: "warn", Format: "json", Output: "stderr"}}

	v := viper.New()
	lc := logConfig(v, cfg)
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "stderr", lc.Output)

	v.Set(keyLogLevel, "debug")
	v.Set(keyLogFormat, "console")
	lc = logConfig(v, cfg)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "console", lc.Format)

	lc = logConfig(viper.New(), nil)
	assert.Equal(t, "info", lc.Level)
}

func TestRunServe_InvalidConfig(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set(keyConfig, writeConfig(t, "servers: []\n"))

	err := runServe(context.Background(), v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set(keyConfig, writeConfig(t, testConfigYAML))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, v)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestInitApplication(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadAndValidate(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	app, err := initApplication(cfg, observability.NopLogger())
	require.NoError(t, err)
	require.NotNil(t, app.gateway)

	require.NoError(t, app.gateway.Start(context.Background()))
	assert.True(t, app.gateway.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.shutdown(ctx))
	assert.False(t, app.gateway.IsRunning())
}
