package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/autotest/pkg/environment"
	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/registry"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/runtime/fake"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			ok, err := confirm(strings.NewReader(tt.input), &out, "Remove?")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			assert.Equal(t, "Remove? [y/N]: ", out.String())
		})
	}
}

func TestPrintDeployResult(t *testing.T) {
	result := &environment.DeployResult{
		Env: &types.Environment{ID: "autotest-env-1234abcd", Network: "autotest-env-1234abcd-net"},
		Services: []environment.ServiceResult{
			{Name: "web", ContainerID: "0123456789abcdef0123", Image: "nginx:1.27", Ports: []string{"8080:80"}},
			{Name: "db", Image: "postgres:16", Err: errors.New("pull access denied")},
		},
	}

	var out bytes.Buffer
	printDeployResult(&out, result)

	text := out.String()
	assert.Contains(t, text, "Environment: autotest-env-1234abcd")
	assert.Contains(t, text, "0123456789ab ")
	assert.NotContains(t, text, "0123456789abc")
	assert.Contains(t, text, "8080:80")
	assert.Contains(t, text, "failed: pull access denied")
}

func TestPrintEvent(t *testing.T) {
	ev := events.Action(events.EventContainerRestarted, "autotest-env-1234abcd", "web", "0123456789abcdef", "restarted", "container restarted")
	ev.Timestamp = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	var out bytes.Buffer
	printEvent(&out, ev)

	assert.Equal(t,
		"09:30:00  container.restarted        service=web container=0123456789ab outcome=restarted  container restarted\n",
		out.String())
}

func TestPrintStatus(t *testing.T) {
	rt := fake.New()
	const envID = "autotest-env-5a5a5a5a"
	created := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	rt.AddContainer(runtime.ContainerInfo{
		Name:   types.ContainerName(envID, "web"),
		Labels: types.ServiceLabels(envID, created, "web", types.RoleBase, ""),
	})
	rt.AddContainer(runtime.ContainerInfo{
		Name:   types.ReplicaName(envID, "web", "abcd1234"),
		Labels: types.ServiceLabels(envID, created, "web", types.RoleReplica, "abcd1234"),
	})

	state, err := registry.New().Rebuild(context.Background(), rt, envID, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	printStatus(&out, state)

	text := out.String()
	assert.Contains(t, text, "Created:     2026-10-16T09:00:00Z")
	assert.Contains(t, text, types.ReplicaName(envID, "web", "abcd1234"))
	assert.Contains(t, text, "replica")
}
