package environment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/autotest/pkg/config"
	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/metrics"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// IDPrefix starts every generated environment identifier
const IDPrefix = "autotest-env-"

// ErrEnvironmentNotFound is returned by Teardown when nothing carries the
// environment's label
var ErrEnvironmentNotFound = types.ErrEnvironmentNotFound

// Options configures a Deployer
type Options struct {
	Broker *events.Broker

	// RollbackOnFailure tears down a partially created environment when
	// Deploy fails. By default the partial environment is left in place.
	RollbackOnFailure bool

	// NewID generates environment identifiers
	NewID func() string

	// Clock stamps the creation label
	Clock clock.PassiveClock
}

// Deployer creates and destroys environments against a runtime
type Deployer struct {
	rt     runtime.Runtime
	broker *events.Broker
	opts   Options
	logger zerolog.Logger
}

// NewDeployer creates a new deployer
func NewDeployer(rt runtime.Runtime, opts Options) *Deployer {
	if opts.NewID == nil {
		opts.NewID = NewID
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Deployer{
		rt:     rt,
		broker: opts.Broker,
		opts:   opts,
		logger: log.WithComponent("environment"),
	}
}

// NewID returns a fresh identifier of the form autotest-env-<8 hex>
func NewID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ServiceResult is the outcome of creating one service's base container
type ServiceResult struct {
	Name        string
	ContainerID string
	Image       string
	Ports       []string
	Err         error
}

// ShortID returns the 12-character container identifier
func (s ServiceResult) ShortID() string {
	if len(s.ContainerID) > 12 {
		return s.ContainerID[:12]
	}
	return s.ContainerID
}

// DeployResult describes what Deploy created
type DeployResult struct {
	Env        *types.Environment
	NetworkID  string
	Services   []ServiceResult
	RolledBack bool
}

// Deploy creates an isolated network and one base container per declared
// service, in declared order. Every resource is labeled with the new
// environment identifier. The first failure stops the deployment and is
// returned alongside the partial result.
func (d *Deployer) Deploy(ctx context.Context, cfg *config.Config) (*DeployResult, error) {
	timer := metrics.NewTimer()
	envID := d.opts.NewID()
	createdAt := d.opts.Clock.Now().UTC().Truncate(time.Second)

	env := &types.Environment{
		ID:        envID,
		Network:   types.NetworkName(envID),
		Services:  cfg.Services,
		CreatedAt: createdAt,
	}
	result := &DeployResult{Env: env}
	logger := d.logger.With().Str("env", envID).Logger()

	logger.Info().Int("services", len(cfg.Services)).Msg("Deploying environment")

	networkID, err := d.rt.CreateNetwork(ctx, env.Network, types.EnvironmentLabels(envID, createdAt))
	if err != nil {
		return result, d.fail(ctx, result, fmt.Errorf("failed to create network %s: %w", env.Network, err))
	}
	result.NetworkID = networkID
	logger.Debug().Str("network", env.Network).Msg("Network created")

	for _, svc := range cfg.Services {
		res := d.deployService(ctx, env, svc)
		result.Services = append(result.Services, res)
		if res.Err != nil {
			return result, d.fail(ctx, result, fmt.Errorf("failed to deploy service %s: %w", svc.Name, res.Err))
		}
	}

	logger.Info().Dur("duration", timer.Duration()).Msg("Environment deployed")
	return result, nil
}

func (d *Deployer) deployService(ctx context.Context, env *types.Environment, svc *types.ServiceSpec) ServiceResult {
	res := ServiceResult{Name: svc.Name, Ports: svc.Ports}
	logger := log.WithService(d.logger.With().Str("env", env.ID).Logger(), svc.Name)

	src := runtime.ImageSource{Image: svc.Image}
	if svc.Build != "" {
		src = runtime.ImageSource{Build: svc.Build, Tag: types.ImageTag(env.ID, svc.Name)}
		logger.Info().Str("context", svc.Build).Str("tag", src.Tag).Msg("Building image")
	} else {
		logger.Info().Str("image", svc.Image).Msg("Pulling image")
	}

	timer := metrics.NewTimer()
	image, err := d.rt.EnsureImage(ctx, src)
	metrics.ObserveRuntimeCall("ensure_image", timer, err)
	if err != nil {
		res.Err = err
		logger.Error().Err(err).Msg("Image unavailable")
		return res
	}
	res.Image = image

	timer = metrics.NewTimer()
	id, err := d.rt.CreateContainer(ctx, runtime.ContainerSpec{
		Name:    types.ContainerName(env.ID, svc.Name),
		Image:   image,
		Env:     svc.Env,
		Ports:   svc.Ports,
		Network: env.Network,
		Labels:  types.ServiceLabels(env.ID, env.CreatedAt, svc.Name, types.RoleBase, ""),
	})
	metrics.ObserveRuntimeCall("create", timer, err)
	if err != nil {
		res.Err = err
		logger.Error().Err(err).Msg("Container creation failed")
		return res
	}

	res.ContainerID = id
	ctrLog := log.WithContainer(logger, id)
	ctrLog.Info().Strs("ports", svc.Ports).Msg("Service container started")
	return res
}

// fail applies the rollback policy to a failed deployment
func (d *Deployer) fail(ctx context.Context, result *DeployResult, err error) error {
	if !d.opts.RollbackOnFailure {
		d.logger.Warn().
			Str("env", result.Env.ID).
			Msg("Deployment failed, partial environment left in place")
		return err
	}

	d.logger.Warn().Str("env", result.Env.ID).Msg("Deployment failed, rolling back")
	// Rollback must run even if the deploy was cancelled
	_, rbErr := d.Teardown(context.WithoutCancel(ctx), result.Env.ID)
	if rbErr != nil && !errors.Is(rbErr, ErrEnvironmentNotFound) {
		return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
	}
	result.RolledBack = true
	return err
}
