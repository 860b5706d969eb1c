package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/topology"
)

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

func parameterizedEnv(t *testing.T) {
	t.Helper()
	values := map[string]string{
		"POSTGRES_DB":       "tracker",
		"POSTGRES_USER":     "tracker",
		"POSTGRES_PASSWORD": "secret",
		"POSTGRES_PORT":     "5433",
		"MAILHOG_SMTP":      "1025",
		"MAILHOG_UI":        "8025",
		"REDIS_PORT":        "6379",
		"WEB_PORT":          "8000",
		"DEBUG":             "false",
		"DATABASE_URL":      "postgres://tracker:secret@db:5432/tracker?sslmode=disable",
		"REDIS_URL":         "redis://redis:6379/0",
		"DEV_ENV":           "development",
	}
	for k, v := range values {
		t.Setenv(k, v)
	}
}

func clearParameterizedEnv(t *testing.T) {
	t.Helper()
	for _, name := range topology.RequiredVariables("parameterized") {
		t.Setenv(name, "")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "Financial Tracker "+AppVersion+"\n", out)
}

func TestManifestDockerfile(t *testing.T) {
	out, err := execute(t, "manifest", "dockerfile")
	require.NoError(t, err)
	assert.Contains(t, out, "EXPOSE 8000")
	assert.Contains(t, out, `CMD ["tracker", "serve"]`)
}

func TestManifestComposeFixed(t *testing.T) {
	out, err := execute(t, "manifest", "compose", "--variant", "fixed")
	require.NoError(t, err)

	var file struct {
		Services map[string]struct {
			Ports []string `yaml:"ports"`
		} `yaml:"services"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &file))
	assert.Equal(t, []string{"5432:5432"}, file.Services["db"].Ports)
	assert.Equal(t, []string{"8000:8000"}, file.Services["web"].Ports)
}

func TestManifestComposeResolvesParameterizedPorts(t *testing.T) {
	parameterizedEnv(t)

	out, err := execute(t, "manifest", "compose", "--variant", "parameterized", "--resolve")
	require.NoError(t, err)
	assert.Contains(t, out, "5433:5432")
	assert.NotContains(t, out, "${")
}

func TestManifestComposeReportsMissingVariables(t *testing.T) {
	clearParameterizedEnv(t)

	_, err := execute(t, "manifest", "compose", "--variant", "parameterized", "--resolve")
	require.Error(t, err)
	for _, name := range []string{"POSTGRES_DB", "POSTGRES_PORT", "WEB_PORT", "MAILHOG_SMTP"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestManifestComposeRejectsWrongServerPort(t *testing.T) {
	_, err := execute(t, "manifest", "compose", "--variant", "fixed", "--port", "9000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid deployment topology")
}

func TestConfigValidateFailsFastOnMissingVariables(t *testing.T) {
	clearParameterizedEnv(t)

	_, err := execute(t, "config", "validate", "--variant", "parameterized", "--env-file", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "POSTGRES_PASSWORD")
}

func TestConfigValidateFixed(t *testing.T) {
	out, err := execute(t, "config", "validate", "--variant", "fixed", "--env-file", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid!")
	assert.Contains(t, out, "Variant: fixed")
	assert.Contains(t, out, "Server: 0.0.0.0:8000")
}

func TestCollectStaticCommand(t *testing.T) {
	root := filepath.Join(t.TempDir(), "static")

	out, err := execute(t, "collectstatic", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "copied")

	_, err = os.Stat(filepath.Join(root, "index.html"))
	require.NoError(t, err)

	out, err = execute(t, "collectstatic", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "0 static file(s) copied")
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	_, err := execute(t, "migrate", "down", "zero")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Steps must be a positive integer")
}

func TestManifestPortsMatchServerPort(t *testing.T) {
	t.Setenv("TRACKER_VARIANT", "")
	cfg, err := config.LoadVariant("", config.VariantFixed)
	require.NoError(t, err)

	stack, err := topology.New(config.VariantFixed, topology.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, stack.Validate(cfg.Server.Port))

	hostPort, err := stack.HostPort(topology.ServiceWeb, cfg.Server.Port)
	require.NoError(t, err)
	assert.Equal(t, 8000, hostPort)
	assert.Equal(t, cfg.Server.Port, topology.DefaultBuild().Expose)
}

func TestAwaitShutdown(t *testing.T) {
	t.Run("signal", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, awaitShutdown(ctx, make(chan error)))
	})

	t.Run("server failure", func(t *testing.T) {
		errs := make(chan error, 1)
		errs <- errors.New("accept tcp: use of closed network connection")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := awaitShutdown(ctx, errs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP server stopped")
	})
}
