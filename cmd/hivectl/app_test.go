package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveline/hivectl/cmd/hivectl/config"
	"github.com/coveline/hivectl/cmd/hivectl/internal/graph"
	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/compose"
	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/process"
	"github.com/coveline/hivectl/cmd/hivectl/internal/probe"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
	"github.com/coveline/hivectl/pkg/logging"
)

func testApp() *app {
	cfg := config.DefaultConfig()
	return &app{
		cfg:  &cfg,
		log:  logging.Discard(),
		proc: &process.MockManager{},
		sup:  &compose.MockSupervisor{},
		connector: schema.ConnectorFunc(func(ctx context.Context, database string) (schema.Conn, error) {
			return nil, errors.New("no database in tests")
		}),
	}
}

func TestBuildGraphFromDefaultConfig(t *testing.T) {
	a := testApp()

	g, err := a.buildGraph()
	require.NoError(t, err)

	assert.Len(t, g.Nodes(), 5)
	assert.Len(t, g.Tier(graph.TierBase), 2)
	assert.Len(t, g.Tier(graph.TierQuery), 3)

	hs2 := g.Lookup("hiveserver2")
	require.NotNil(t, hs2)
	assert.Equal(t, []string{"metastore", "resourcemanager"}, hs2.DependsOn)
	assert.Equal(t, 300*time.Second, hs2.MaxWait)
	assert.IsType(t, &probe.QueryProbe{}, hs2.Probe)
}

func TestBuildProbeKinds(t *testing.T) {
	a := testApp()

	p, err := a.buildProbe(config.ServiceConfig{
		Name:  "resourcemanager",
		Probe: config.ProbeConfig{Type: "tcp", Addr: "localhost:8088"},
	})
	require.NoError(t, err)
	tcp, ok := p.(*probe.TCPProbe)
	require.True(t, ok)
	assert.Equal(t, "localhost:8088", tcp.Addr)

	p, err = a.buildProbe(config.ServiceConfig{
		Name:  "metastore",
		Probe: config.ProbeConfig{Type: "log", Markers: []string{"Started"}},
	})
	require.NoError(t, err)
	lp, ok := p.(*probe.LogProbe)
	require.True(t, ok)
	assert.Equal(t, a.sup, lp.Source, "log probes read through the supervisor")

	_, err = a.buildProbe(config.ServiceConfig{
		Name:  "x",
		Probe: config.ProbeConfig{Type: "query", Query: "bogus"},
	})
	assert.Error(t, err)

	_, err = a.buildProbe(config.ServiceConfig{
		Name:  "x",
		Probe: config.ProbeConfig{Type: "icmp"},
	})
	assert.Error(t, err)
}

func TestRunTimeoutFlagOverridesConfig(t *testing.T) {
	a := testApp()
	a.cfg.Run.TimeoutSeconds = 900

	old := timeoutSeconds
	defer func() { timeoutSeconds = old }()

	timeoutSeconds = 0
	assert.Equal(t, 900*time.Second, a.runTimeout())

	timeoutSeconds = 60
	assert.Equal(t, 60*time.Second, a.runTimeout())
}

func TestBuildGraphRejectsUnknownDependency(t *testing.T) {
	a := testApp()
	a.cfg.Services = []config.ServiceConfig{
		{
			Name:      "metastore",
			Tier:      "query",
			DependsOn: []string{"ghost"},
			Probe:     config.ProbeConfig{Type: "tcp", Addr: "localhost:9083"},
		},
	}

	_, err := a.buildGraph()
	assert.ErrorIs(t, err, graph.ErrUnknownDependency)
}
