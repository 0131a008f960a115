/*
Package runtime is the boundary between autotest and the container engine.

Everything autotest knows about an environment lives in the engine: containers
and networks are created with identifying labels, and every later question
(which containers belong to environment X, which of them are replicas, what
host port the web service is published on) is answered by listing or
inspecting labeled resources. The Runtime interface keeps that boundary small
so the reconciliation logic can be exercised against an in-memory fake.

# Docker Engine

DockerRuntime talks to the daemon configured by DOCKER_HOST (or the default
socket) with API version negotiation:

	rt, err := runtime.NewDockerRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	id, err := rt.CreateContainer(ctx, runtime.ContainerSpec{
		Name:    "autotest-env-1a2b3c4d-web",
		Image:   "nginx:1.27",
		Ports:   []string{"8080:80"},
		Network: "autotest-env-1a2b3c4d-net",
		Labels:  map[string]string{types.LabelEnvironment: "autotest-env-1a2b3c4d"},
	})

CPU samples use a non-streaming stats request; the daemon includes the
previous sample so the percentage covers roughly one second, computed the same
way `docker stats` does (delta container time / delta system time * CPUs).

# Errors

Every failed call is returned as a *ClientError naming the operation and the
resource. Missing resources additionally match ErrNotFound so teardown can
ignore containers that disappeared on their own.
*/
package runtime
