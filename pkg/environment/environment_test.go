package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/autotest/pkg/config"
	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/runtime/fake"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var now = time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC)

func sampleConfig() *config.Config {
	return &config.Config{
		Services: []*types.ServiceSpec{
			{Name: "web", Image: "nginx:1.27", Ports: []string{"8080:80"}, Env: []string{"MODE=test"}},
			{Name: "api", Build: "/src/api", Ports: []string{"9000:9000"}},
			{Name: "db", Image: "postgres:16"},
		},
	}
}

func fixedIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newDeployer(rt runtime.Runtime, opts Options) *Deployer {
	if opts.Clock == nil {
		opts.Clock = clocktesting.NewFakePassiveClock(now)
	}
	return NewDeployer(rt, opts)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.True(t, strings.HasPrefix(a, IDPrefix))
	assert.Len(t, a, len(IDPrefix)+8)
	assert.NotEqual(t, a, b)
}

func TestDeploy(t *testing.T) {
	rt := fake.New()
	d := newDeployer(rt, Options{NewID: fixedIDs("autotest-env-00c0ffee")})

	result, err := d.Deploy(context.Background(), sampleConfig())
	require.NoError(t, err)

	assert.Equal(t, "autotest-env-00c0ffee", result.Env.ID)
	assert.Equal(t, "autotest-env-00c0ffee-net", result.Env.Network)
	assert.True(t, now.Equal(result.Env.CreatedAt))
	assert.NotEmpty(t, result.NetworkID)
	assert.Equal(t, 1, rt.NetworkCount())

	require.Len(t, result.Services, 3)
	for _, svc := range result.Services {
		assert.NoError(t, svc.Err)
		assert.Len(t, svc.ShortID(), 12)
	}

	// Build contexts are tagged per environment, images are pulled
	require.Len(t, rt.Images, 3)
	assert.Equal(t, "nginx:1.27", rt.Images[0].Image)
	assert.Equal(t, "/src/api", rt.Images[1].Build)
	assert.Equal(t, "api:autotest-env-00c0ffee", rt.Images[1].Tag)
	assert.Equal(t, "api:autotest-env-00c0ffee", result.Services[1].Image)

	require.Len(t, rt.Created, 3)
	web := rt.Created[0]
	assert.Equal(t, "autotest-env-00c0ffee-web", web.Name)
	assert.Equal(t, []string{"8080:80"}, web.Ports)
	assert.Equal(t, []string{"MODE=test"}, web.Env)
	assert.Equal(t, "autotest-env-00c0ffee-net", web.Network)
	assert.Equal(t, "autotest-env-00c0ffee", web.Labels[types.LabelEnvironment])
	assert.Equal(t, "web", web.Labels[types.LabelService])
	assert.Equal(t, "base", web.Labels[types.LabelRole])
	assert.Equal(t, "2026-10-16T14:30:00Z", web.Labels[types.LabelCreated])

	info, ok := rt.Container(result.Services[0].ContainerID)
	require.True(t, ok)
	binding, ok := info.HostPort(80, "tcp")
	require.True(t, ok)
	assert.Equal(t, 8080, binding.HostPort)
}

func TestDeploy_LogsStartedContainers(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &buf})
	defer log.Init(log.Config{Level: log.InfoLevel, Output: io.Discard})

	rt := fake.New()
	d := newDeployer(rt, Options{NewID: fixedIDs("autotest-env-00c0ffee")})
	result, err := d.Deploy(context.Background(), sampleConfig())
	require.NoError(t, err)

	started := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "Service container started" {
			started[entry["service"].(string)] = entry["container"].(string)
		}
	}

	require.Len(t, started, 3)
	for _, svc := range result.Services {
		assert.Equal(t, svc.ShortID(), started[svc.Name])
	}
}

func TestDeploy_PartialFailureKeepsEnvironment(t *testing.T) {
	rt := fake.New()
	rt.OnCreate = func(spec runtime.ContainerSpec) error {
		if strings.HasSuffix(spec.Name, "-api") {
			return errors.New("port is already allocated")
		}
		return nil
	}
	d := newDeployer(rt, Options{NewID: fixedIDs("autotest-env-0000fa11")})

	result, err := d.Deploy(context.Background(), sampleConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api")

	require.Len(t, result.Services, 2, "deployment stops at the first failure")
	assert.NoError(t, result.Services[0].Err)
	assert.Error(t, result.Services[1].Err)
	assert.False(t, result.RolledBack)

	assert.Equal(t, 1, rt.ContainerCount())
	assert.Equal(t, 1, rt.NetworkCount())
}

func TestDeploy_RollbackOnFailure(t *testing.T) {
	rt := fake.New()
	rt.FailOn("ensure", errors.New("manifest unknown"))

	// A neighbour environment must survive the rollback
	neighbour := rt.AddContainer(runtime.ContainerInfo{
		Name:   "autotest-env-11111111-web",
		Labels: types.ServiceLabels("autotest-env-11111111", now, "web", types.RoleBase, ""),
	})

	d := newDeployer(rt, Options{NewID: fixedIDs("autotest-env-0000dead"), RollbackOnFailure: true})

	result, err := d.Deploy(context.Background(), sampleConfig())
	require.Error(t, err)
	assert.True(t, result.RolledBack)
	assert.Equal(t, 0, rt.NetworkCount())

	_, ok := rt.Container(neighbour)
	assert.True(t, ok)
	assert.Equal(t, 1, rt.ContainerCount())
}

func TestDeploy_NetworkFailure(t *testing.T) {
	rt := fake.New()
	rt.FailOn("create network", errors.New("pool overlaps"))
	d := newDeployer(rt, Options{})

	result, err := d.Deploy(context.Background(), sampleConfig())
	require.Error(t, err)
	assert.Empty(t, result.Services)
	assert.Equal(t, 0, rt.Calls("create"))
}

func TestTeardown_Isolation(t *testing.T) {
	rt := fake.New()
	d := newDeployer(rt, Options{NewID: fixedIDs("autotest-env-aaaaaaaa", "autotest-env-bbbbbbbb")})

	a, err := d.Deploy(context.Background(), sampleConfig())
	require.NoError(t, err)
	b, err := d.Deploy(context.Background(), sampleConfig())
	require.NoError(t, err)

	// A scaled-out replica belongs to the closure too
	replica := rt.AddContainer(runtime.ContainerInfo{
		Name:   types.ReplicaName(a.Env.ID, "web", "r1"),
		Labels: types.ServiceLabels(a.Env.ID, now, "web", types.RoleReplica, "r1"),
	})
	unrelated := rt.AddContainer(runtime.ContainerInfo{Name: "someone-elses-container"})

	broker := events.NewBroker()
	sub := broker.Subscribe()
	broker.Start()
	defer broker.Stop()
	d.broker = broker

	result, err := d.Teardown(context.Background(), a.Env.ID)
	require.NoError(t, err)
	assert.True(t, result.Complete())
	assert.Len(t, result.Containers, 4)
	assert.Len(t, result.Networks, 1)

	_, ok := rt.Container(replica)
	assert.False(t, ok)
	_, ok = rt.Container(unrelated)
	assert.True(t, ok)

	for _, svc := range b.Services {
		_, ok := rt.Container(svc.ContainerID)
		assert.True(t, ok, "environment %s must be untouched", b.Env.ID)
	}
	assert.Equal(t, 1, rt.NetworkCount())

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventContainerRemoved, ev.Type)
		assert.Equal(t, a.Env.ID, ev.Metadata[events.KeyEnvironment])
		assert.Equal(t, OutcomeRemoved, ev.Metadata[events.KeyOutcome])
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}
}

func TestTeardown_ReportsFailedRemovals(t *testing.T) {
	rt := fake.New()
	d := newDeployer(rt, Options{NewID: fixedIDs("autotest-env-0rdered0")})
	_, err := d.Deploy(context.Background(), sampleConfig())
	require.NoError(t, err)

	rt.FailOn("remove", errors.New("device busy"))
	result, err := d.Teardown(context.Background(), "autotest-env-0rdered0")
	require.Error(t, err)
	assert.False(t, result.Complete())
	assert.Equal(t, 3, rt.Calls("remove"))
	assert.Equal(t, 1, rt.Calls("remove network"))
}

func TestTeardown_NotFound(t *testing.T) {
	rt := fake.New()
	d := newDeployer(rt, Options{})

	_, err := d.Teardown(context.Background(), "autotest-env-nothere0")
	assert.True(t, errors.Is(err, ErrEnvironmentNotFound))
}

func TestTeardown_AlreadyGoneIsIgnored(t *testing.T) {
	rt := fake.New()
	d := newDeployer(rt, Options{NewID: fixedIDs("autotest-env-00000909")})
	_, err := d.Deploy(context.Background(), sampleConfig())
	require.NoError(t, err)

	rt.FailOn("remove", runtime.ErrNotFound)
	result, err := d.Teardown(context.Background(), "autotest-env-00000909")
	require.NoError(t, err)
	assert.True(t, result.Complete())
	for _, rm := range result.Containers {
		assert.Equal(t, OutcomeGone, rm.Outcome)
	}
}
