package healing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/health"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/runtime/fake"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*fake.Runtime, *Healer, *types.ServiceSpec, *types.Instance) {
	t.Helper()

	rt := fake.New()
	id := rt.AddContainer(runtime.ContainerInfo{Name: "autotest-env-00000001-web", Running: true})

	svc := &types.ServiceSpec{
		Name:        "web",
		HealthCheck: &types.HealthCheckRule{Type: types.ProbeHTTPGet, Endpoint: "/health", Port: 80, Retries: 3},
	}
	inst := &types.Instance{ContainerID: id, Name: "autotest-env-00000001-web", Role: types.RoleBase}

	healer := NewHealer(rt, Options{EnvID: "autotest-env-00000001"})
	return rt, healer, svc, inst
}

func failed() health.Result {
	return health.Result{Healthy: false, Message: "connection refused", CheckedAt: time.Now()}
}

func passed() health.Result {
	return health.Result{Healthy: true, Message: "HTTP 200", CheckedAt: time.Now()}
}

func TestHandle_ThreeFailuresRestartOnce(t *testing.T) {
	rt, healer, svc, inst := setup(t)
	ctx := context.Background()

	healer.Handle(ctx, svc, inst, failed(), true)
	assert.Equal(t, 1, inst.Failures)
	healer.Handle(ctx, svc, inst, failed(), true)
	assert.Equal(t, 2, inst.Failures)
	assert.Empty(t, rt.Restarted)

	tr := healer.Handle(ctx, svc, inst, failed(), true)
	assert.True(t, tr.Restart)
	assert.Equal(t, []string{inst.ContainerID}, rt.Restarted)
	assert.Equal(t, 0, inst.Failures)
	assert.Equal(t, types.OutcomeFailure, inst.LastOutcome)
}

func TestHandle_SuccessAfterTwoFailuresResets(t *testing.T) {
	rt, healer, svc, inst := setup(t)
	ctx := context.Background()

	healer.Handle(ctx, svc, inst, failed(), true)
	healer.Handle(ctx, svc, inst, failed(), true)
	tr := healer.Handle(ctx, svc, inst, passed(), true)

	assert.Equal(t, StateHealthy, tr.To)
	assert.Equal(t, 0, inst.Failures)
	assert.Equal(t, types.OutcomeSuccess, inst.LastOutcome)
	assert.Empty(t, rt.Restarted)
}

func TestHandle_FailedRestartStillResets(t *testing.T) {
	rt, healer, svc, inst := setup(t)
	rt.FailOn("restart", errors.New("daemon unavailable"))

	broker := events.NewBroker()
	sub := broker.Subscribe()
	broker.Start()
	defer broker.Stop()
	healer.broker = broker

	inst.Failures = 2
	tr := healer.Handle(context.Background(), svc, inst, failed(), true)

	assert.True(t, tr.Restart)
	assert.Equal(t, 0, inst.Failures)
	assert.Len(t, rt.Restarted, 1)
	assert.Equal(t, 1, rt.Calls("restart"))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventRestartFailed, ev.Type)
		assert.Equal(t, "web", ev.Metadata[events.KeyService])
		assert.Equal(t, OutcomeFailed, ev.Metadata[events.KeyOutcome])
	case <-time.After(time.Second):
		t.Fatal("no restart event published")
	}
}

func TestHandle_RestartDeferred(t *testing.T) {
	rt, healer, svc, inst := setup(t)

	inst.Failures = 2
	tr := healer.Handle(context.Background(), svc, inst, failed(), false)

	assert.True(t, tr.Deferred)
	assert.Empty(t, rt.Restarted)
	assert.Equal(t, 2, inst.Failures)

	// Next tick the restart goes through
	tr = healer.Handle(context.Background(), svc, inst, failed(), true)
	assert.True(t, tr.Restart)
	assert.Len(t, rt.Restarted, 1)
	assert.Equal(t, 0, inst.Failures)
}

func TestHandle_ScopedToOneContainer(t *testing.T) {
	rt, healer, svc, inst := setup(t)
	siblingID := rt.AddContainer(runtime.ContainerInfo{Name: "autotest-env-00000001-web-rabc"})
	sibling := &types.Instance{ContainerID: siblingID, Role: types.RoleReplica, Suffix: "abc"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		healer.Handle(ctx, svc, inst, failed(), true)
		healer.Handle(ctx, svc, sibling, passed(), true)
	}

	require.Len(t, rt.Restarted, 1)
	assert.Equal(t, inst.ContainerID, rt.Restarted[0])
	assert.Equal(t, 0, sibling.Failures)
}

func TestHandle_DefaultRetriesWithoutRule(t *testing.T) {
	rt, healer, _, inst := setup(t)
	svc := &types.ServiceSpec{Name: "web"}
	ctx := context.Background()

	for i := 0; i < types.DefaultProbeRetries; i++ {
		healer.Handle(ctx, svc, inst, failed(), true)
	}
	assert.Len(t, rt.Restarted, 1)
}
