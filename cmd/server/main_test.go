package main

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/paper-order-pipeline/internal/config"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestFlags(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	for _, name := range []string{"config", "env-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "config.yaml", cmd.PersistentFlags().Lookup("config").DefValue)
}

func TestServeFailsOnMissingEnvFile(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", "", "--env-file", "/nonexistent/.env"})

	require.Error(t, cmd.Execute())
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	srv := newServer(config.ServerConfig{Addr: ":9999", RequestTimeout: 30 * time.Second}, http.NotFoundHandler())

	assert.Equal(t, ":9999", srv.Addr)
	assert.Greater(t, srv.WriteTimeout, 30*time.Second)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}
