package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-gateway/internal/pool"
)

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "serve")
	require.Contains(t, names, "agent")
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestServeFailsWithoutPool(t *testing.T) {
	t.Setenv("AGENT_URLS", "")
	t.Setenv("GATEWAY_POOL_AGENT_URLS", "")
	t.Setenv("API_KEY", "secret")
	t.Setenv("GATEWAY_LOGGING_DEVELOPMENT", "false")

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))

	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, pool.ErrConfigurationMissing)
}

func TestConfigFileMustExist(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", "/nonexistent/scrapegw.yaml"})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))

	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "load config")
}

func TestResolveRuntimeMissing(t *testing.T) {
	t.Parallel()

	_, err := resolveRuntime(context.Background())
	require.Error(t, err)
}

func TestServiceName(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, c := range root.Commands() {
		switch c.Name() {
		case "agent":
			require.Equal(t, "scrape-agent", serviceName(c))
		case "serve":
			require.Equal(t, "scrape-gateway", serviceName(c))
		}
	}
}
