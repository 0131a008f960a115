package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements Runtime against a Docker Engine
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker Engine configured by the
// environment (DOCKER_HOST etc.) and verifies it answers.
func NewDockerRuntime(ctx context.Context) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to Docker Engine: %w", err)
	}

	return &DockerRuntime{cli: cli}, nil
}

// Close closes the docker client connection
func (d *DockerRuntime) Close() error {
	if d.cli != nil {
		return d.cli.Close()
	}
	return nil
}

// EnsureImage builds src.Build when set, otherwise pulls src.Image
func (d *DockerRuntime) EnsureImage(ctx context.Context, src ImageSource) (string, error) {
	if src.Build != "" {
		return d.buildImage(ctx, src)
	}

	reader, err := d.cli.ImagePull(ctx, src.Image, image.PullOptions{})
	if err != nil {
		return "", wrapErr("pull", src.Image, err)
	}
	defer reader.Close()

	// Pull failures are reported inside the progress stream
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return "", wrapErr("pull", src.Image, err)
	}

	return src.Image, nil
}

func (d *DockerRuntime) buildImage(ctx context.Context, src ImageSource) (string, error) {
	buildCtx, err := archive.TarWithOptions(src.Build, &archive.TarOptions{})
	if err != nil {
		return "", wrapErr("build", src.Build, err)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{src.Tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", wrapErr("build", src.Build, err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return "", wrapErr("build", src.Build, err)
	}

	return src.Tag, nil
}

// CreateNetwork creates a bridge network
func (d *DockerRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	resp, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		return "", wrapErr("create network", name, err)
	}
	return resp.ID, nil
}

// ListNetworks returns networks matching every label
func (d *DockerRuntime) ListNetworks(ctx context.Context, labels map[string]string) ([]Network, error) {
	nets, err := d.cli.NetworkList(ctx, network.ListOptions{Filters: labelFilter(labels)})
	if err != nil {
		return nil, wrapErr("list networks", "", err)
	}

	out := make([]Network, 0, len(nets))
	for _, n := range nets {
		out = append(out, Network{ID: n.ID, Name: n.Name, Labels: n.Labels})
	}
	return out, nil
}

// RemoveNetwork deletes a network
func (d *DockerRuntime) RemoveNetwork(ctx context.Context, id string) error {
	if err := d.cli.NetworkRemove(ctx, id); err != nil {
		return wrapErr("remove network", id, err)
	}
	return nil
}

// CreateContainer creates and starts a container attached to spec.Network.
// Host ports are published only for the mappings listed in spec.Ports.
func (d *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return "", wrapErr("create", spec.Name, err)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", wrapErr("create", spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best effort: a created-but-never-started container is useless
		_ = d.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return "", wrapErr("start", spec.Name, err)
	}

	return resp.ID, nil
}

// InspectContainer returns the observed state of a container
func (d *DockerRuntime) InspectContainer(ctx context.Context, id string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, wrapErr("inspect", id, err)
	}
	return inspectToInfo(resp), nil
}

// ListContainers returns every container (running or not) matching labels
func (d *DockerRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labelFilter(labels),
	})
	if err != nil {
		return nil, wrapErr("list containers", "", err)
	}

	out := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		info := ContainerInfo{
			ID:        c.ID,
			Image:     c.Image,
			Labels:    c.Labels,
			State:     string(c.State),
			Running:   string(c.State) == "running",
			CreatedAt: time.Unix(c.Created, 0),
		}
		if len(c.Names) > 0 {
			info.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, p := range c.Ports {
			info.Ports = append(info.Ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				Protocol:      p.Type,
				HostIP:        p.IP,
				HostPort:      int(p.PublicPort),
			})
		}
		if c.NetworkSettings != nil {
			for _, ep := range c.NetworkSettings.Networks {
				if ep != nil && ep.IPAddress != "" {
					info.IPAddress = ep.IPAddress
					break
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// RestartContainer restarts one container, waiting up to timeout for it
// to stop before killing it
func (d *DockerRuntime) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return wrapErr("restart", id, err)
	}
	return nil
}

// RemoveContainer force-removes a container with its anonymous volumes
func (d *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		return wrapErr("remove", id, err)
	}
	return nil
}

// CPUPercent takes a non-streaming stats sample. The daemon fills in the
// previous sample, so the result covers a short window rather than the
// container's lifetime.
func (d *DockerRuntime) CPUPercent(ctx context.Context, id string) (float64, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return 0, wrapErr("stats", id, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, wrapErr("stats", id, err)
	}

	return cpuPercent(&stats), nil
}

// cpuPercent mirrors the calculation `docker stats` performs
func cpuPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}

	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	return (cpuDelta / systemDelta) * onlineCPUs * 100.0
}

func inspectToInfo(resp container.InspectResponse) *ContainerInfo {
	info := &ContainerInfo{}

	if resp.ContainerJSONBase != nil {
		info.ID = resp.ID
		info.Name = strings.TrimPrefix(resp.Name, "/")
		if resp.State != nil {
			info.State = string(resp.State.Status)
			info.Running = resp.State.Running
		}
		if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
			info.CreatedAt = created
		}
	}

	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Env = resp.Config.Env
		info.Labels = resp.Config.Labels
	}

	if resp.NetworkSettings != nil {
		for port, bindings := range resp.NetworkSettings.Ports {
			info.Ports = append(info.Ports, portBindings(port, bindings)...)
		}
		for _, ep := range resp.NetworkSettings.Networks {
			if ep != nil && ep.IPAddress != "" {
				info.IPAddress = ep.IPAddress
				break
			}
		}
	}

	return info
}

func portBindings(port nat.Port, bindings []nat.PortBinding) []PortBinding {
	if len(bindings) == 0 {
		return []PortBinding{{ContainerPort: port.Int(), Protocol: port.Proto()}}
	}

	out := make([]PortBinding, 0, len(bindings))
	for _, b := range bindings {
		hostPort, _ := strconv.Atoi(b.HostPort)
		out = append(out, PortBinding{
			ContainerPort: port.Int(),
			Protocol:      port.Proto(),
			HostIP:        b.HostIP,
			HostPort:      hostPort,
		})
	}
	return out
}

func labelFilter(labels map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	return args
}

func wrapErr(op, id string, err error) error {
	if client.IsErrNotFound(err) {
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &ClientError{Op: op, ID: id, Err: err}
}
