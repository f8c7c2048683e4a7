package cases_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctest/irctest-go/internal/testharness/cases"
	"github.com/irctest/irctest-go/internal/testharness/engine"
	"github.com/irctest/irctest-go/internal/testharness/harness"
	"github.com/irctest/irctest-go/internal/testharness/loader"
	"github.com/irctest/irctest-go/internal/testharness/mock"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
)

func newEngine() *engine.Engine {
	return engine.NewWithConfig(&engine.EngineConfig{DefaultTimeout: 20 * time.Second, GracePeriod: time.Second})
}

func runAll(t *testing.T, kind loader.Kind, env engine.Env) *engine.SuiteResult {
	t.Helper()
	selected := engine.Selector{Kind: kind}.Select(cases.All())
	require.NotEmpty(t, selected)
	return newEngine().RunSuite(context.Background(), "fake", selected, env)
}

func requireAllPassed(t *testing.T, suite *engine.SuiteResult) {
	t.Helper()
	for _, r := range suite.Results {
		assert.Equal(t, engine.StatusPassed, r.Status, "%s: %v %s %v", r.Case.ID, r.Error, r.SkipReason, r.Logs)
	}
}

func TestCatalogIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range cases.All() {
		assert.False(t, seen[c.ID], "duplicate ID %s", c.ID)
		seen[c.ID] = true
		assert.NotEmpty(t, c.Name, c.ID)
		assert.NotEmpty(t, c.Specs, c.ID)
		assert.Contains(t, []loader.Kind{loader.KindServer, loader.KindClient}, c.Kind, c.ID)
	}

	c, ok := cases.Find("labeled-response/privmsg-self")
	require.True(t, ok)
	assert.Equal(t, loader.KindServer, c.Kind)
}

func TestServerCasesAgainstFakeServer(t *testing.T) {
	env := engine.Env{
		Server:  &mock.ServerController{},
		Harness: harness.DefaultConfig(),
	}
	suite := runAll(t, loader.KindServer, env)
	requireAllPassed(t, suite)
	assert.Equal(t, len(suite.Results), suite.PassCount)
}

func TestLabeledCasesSkipWithoutCapabilities(t *testing.T) {
	env := engine.Env{
		Server:  &mock.ServerController{Config: mock.ServerConfig{Capabilities: []string{"batch"}}},
		Harness: harness.DefaultConfig(),
	}
	suite := newEngine().RunSuite(context.Background(), "fake", cases.LabeledResponse(), env)
	assert.Equal(t, len(suite.Results), suite.SkipCount)
}

func TestClientCasesAgainstFakeClient(t *testing.T) {
	env := engine.Env{
		Client:  &mock.ClientController{Script: mock.ClientScript{Version: negotiation.Version302}},
		Harness: harness.DefaultConfig(),
	}
	suite := runAll(t, loader.KindClient, env)
	requireAllPassed(t, suite)
}

func TestClientCasesSkipLegacyClient(t *testing.T) {
	env := engine.Env{
		Client:  &mock.ClientController{},
		Harness: harness.DefaultConfig(),
	}
	suite := runAll(t, loader.KindClient, env)
	for _, r := range suite.Results {
		assert.Equal(t, engine.StatusSkipped, r.Status, "%s: %v", r.Case.ID, r.Error)
	}
}
