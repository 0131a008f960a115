package environment

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/autotest/pkg/config"
	"github.com/cuemby/autotest/pkg/reconciler"
	"github.com/cuemby/autotest/pkg/registry"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort asks the kernel for an unused host port
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestDockerLifecycle deploys nginx, monitors one tick and tears down:
// deploy → rebuild from labels → probe → teardown
func TestDockerLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	rt, err := runtime.NewDockerRuntime(ctx)
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	defer rt.Close()

	port := freePort(t)
	cfg, err := config.Parse([]byte(`
services:
  web:
    image: nginx:alpine
    ports:
      - "`+strconv.Itoa(port)+`:80"
    health_check:
      type: http_get
      endpoint: /
      retries: 2
      interval: 1
`), t.TempDir())
	require.NoError(t, err)

	deployer := NewDeployer(rt, Options{RollbackOnFailure: true})

	t.Log("Step 1: Deploying environment...")
	result, err := deployer.Deploy(ctx, cfg)
	require.NoError(t, err)
	envID := result.Env.ID
	t.Logf("✓ Environment %s deployed", envID)

	defer func() {
		if _, err := deployer.Teardown(context.Background(), envID); err != nil && !errors.Is(err, ErrEnvironmentNotFound) {
			t.Logf("Warning: cleanup teardown: %v", err)
		}
	}()

	t.Log("Step 2: Rebuilding registry from labels...")
	state, err := registry.New().Rebuild(ctx, rt, envID, cfg.Services)
	require.NoError(t, err)
	web := state.Service("web")
	require.NotNil(t, web.Base)
	assert.Equal(t, result.Services[0].ContainerID, web.Base.ContainerID)

	t.Log("Step 3: Probing until nginx answers...")
	loop := reconciler.New(state, reconciler.Deps{Runtime: rt}, reconciler.Config{Parallelism: 1})
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		web.LastEvaluated = time.Time{}
		loop.Tick(ctx)
		if web.Base.LastOutcome == types.OutcomeSuccess {
			break
		}
		time.Sleep(time.Second)
	}
	assert.Equal(t, types.OutcomeSuccess, web.Base.LastOutcome)
	assert.Equal(t, 0, web.Base.Failures)
	t.Log("✓ Health probe succeeded")

	t.Log("Step 4: Tearing down...")
	td, err := deployer.Teardown(ctx, envID)
	require.NoError(t, err)
	assert.True(t, td.Complete())
	assert.Len(t, td.Containers, 1)
	assert.Len(t, td.Networks, 1)

	remaining, err := rt.ListContainers(ctx, map[string]string{types.LabelEnvironment: envID})
	require.NoError(t, err)
	assert.Empty(t, remaining)
	t.Log("✓ Environment removed")
}
