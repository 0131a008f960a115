package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/autotest/pkg/types"
	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is matched by every configuration error via errors.Is
var ErrInvalid = errors.New("invalid configuration")

// Error describes a malformed or missing configuration field
type Error struct {
	Path string // Dotted field path, e.g. "services.web.health_check.type"
	Msg  string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %s", ErrInvalid, e.Msg)
	}
	return fmt.Sprintf("%v: %s: %s", ErrInvalid, e.Path, e.Msg)
}

// Is makes errors.Is(err, ErrInvalid) true for every *Error
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

func fieldErr(path, format string, args ...interface{}) *Error {
	return &Error{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Config is a validated declarative environment definition
type Config struct {
	// Path is the absolute path of the file the config was loaded from
	Path string

	// BaseDir resolves relative build contexts
	BaseDir string

	// Services in declaration order
	Services []*types.ServiceSpec
}

// Service returns the named service spec
func (c *Config) Service(name string) (*types.ServiceSpec, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// MonitoredServices returns the services that declare at least one rule
func (c *Config) MonitoredServices() []*types.ServiceSpec {
	var out []*types.ServiceSpec
	for _, s := range c.Services {
		if s.HasRules() {
			out = append(out, s)
		}
	}
	return out
}

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// rawFile mirrors the file layout before validation
type rawFile struct {
	Services yaml.Node `yaml:"services"`
}

type rawService struct {
	Image             string          `yaml:"image"`
	Build             buildContext    `yaml:"build"`
	Ports             []string        `yaml:"ports"`
	Environment       envList         `yaml:"environment"`
	HealthCheck       *rawHealthCheck `yaml:"health_check"`
	OptimizationRules []rawRule       `yaml:"optimization_rules"`
	MaxReplicas       int             `yaml:"max_replicas"`
}

type rawHealthCheck struct {
	Type     string   `yaml:"type"`
	Endpoint string   `yaml:"endpoint"`
	Port     *int     `yaml:"port"`
	Retries  *int     `yaml:"retries"`
	Interval *float64 `yaml:"interval"` // Seconds
	Timeout  *float64 `yaml:"timeout"`  // Seconds
}

type rawRule struct {
	Metric    string   `yaml:"metric"`
	Threshold *float64 `yaml:"threshold"`
	Action    string   `yaml:"action"`
	Replicas  *int     `yaml:"replicas"`
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("failed to read %s: %v", path, err)}
	}

	cfg, err := Parse(data, filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}
	cfg.Path = absPath
	return cfg, nil
}

// Parse validates configuration data. Relative build contexts are resolved
// against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &Error{Msg: "file is empty"}
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("YAML syntax error: %v", err)}
	}

	if raw.Services.Kind == 0 {
		return nil, fieldErr("services", "section is required")
	}
	if raw.Services.Kind != yaml.MappingNode {
		return nil, fieldErr("services", "must be a mapping of service name to definition")
	}
	if len(raw.Services.Content) == 0 {
		return nil, fieldErr("services", "must declare at least one service")
	}

	cfg := &Config{BaseDir: baseDir}
	seen := make(map[string]bool)

	// Mapping nodes alternate key and value; walking them keeps declared order
	for i := 0; i+1 < len(raw.Services.Content); i += 2 {
		name := raw.Services.Content[i].Value
		path := "services." + name

		if !serviceNamePattern.MatchString(name) {
			return nil, fieldErr(path, "invalid service name %q", name)
		}
		if seen[name] {
			return nil, fieldErr(path, "declared more than once")
		}
		seen[name] = true

		var rs rawService
		if err := raw.Services.Content[i+1].Decode(&rs); err != nil {
			return nil, fieldErr(path, "%v", err)
		}

		spec, err := buildService(name, path, &rs, baseDir)
		if err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, spec)
	}

	return cfg, nil
}

func buildService(name, path string, rs *rawService, baseDir string) (*types.ServiceSpec, error) {
	spec := &types.ServiceSpec{
		Name:        name,
		Image:       rs.Image,
		Ports:       rs.Ports,
		Env:         rs.Environment,
		MaxReplicas: rs.MaxReplicas,
	}

	// A build context takes precedence over an image reference
	if rs.Build != "" {
		buildPath := string(rs.Build)
		if !filepath.IsAbs(buildPath) {
			buildPath = filepath.Join(baseDir, buildPath)
		}
		info, err := os.Stat(buildPath)
		if err != nil || !info.IsDir() {
			return nil, fieldErr(path+".build", "directory %s does not exist", buildPath)
		}
		spec.Build = buildPath
	} else if rs.Image == "" {
		return nil, fieldErr(path, "must define either image or build")
	}

	if _, _, err := nat.ParsePortSpecs(rs.Ports); err != nil {
		return nil, fieldErr(path+".ports", "%v", err)
	}

	if rs.MaxReplicas < 0 {
		return nil, fieldErr(path+".max_replicas", "must not be negative")
	}

	if rs.HealthCheck != nil {
		rule, err := buildHealthCheck(path+".health_check", rs.HealthCheck, rs.Ports)
		if err != nil {
			return nil, err
		}
		spec.HealthCheck = rule
	}

	for i := range rs.OptimizationRules {
		rule, err := buildRule(fmt.Sprintf("%s.optimization_rules[%d]", path, i), &rs.OptimizationRules[i])
		if err != nil {
			return nil, err
		}
		spec.OptimizationRules = append(spec.OptimizationRules, rule)
	}

	return spec, nil
}

func buildHealthCheck(path string, rh *rawHealthCheck, ports []string) (*types.HealthCheckRule, error) {
	rule := &types.HealthCheckRule{
		Type:     types.ProbeType(rh.Type),
		Endpoint: rh.Endpoint,
		Retries:  types.DefaultProbeRetries,
		Interval: types.DefaultProbeInterval,
		Timeout:  types.DefaultProbeTimeout,
	}

	switch rule.Type {
	case types.ProbeHTTPGet:
		if rule.Endpoint == "" {
			return nil, fieldErr(path+".endpoint", "is required for %s", types.ProbeHTTPGet)
		}
		if !strings.HasPrefix(rule.Endpoint, "/") {
			rule.Endpoint = "/" + rule.Endpoint
		}
	case types.ProbeTCPConnect:
	case "":
		return nil, fieldErr(path+".type", "is required")
	default:
		return nil, fieldErr(path+".type", "unsupported probe type %q (want %s or %s)",
			rh.Type, types.ProbeHTTPGet, types.ProbeTCPConnect)
	}

	if rh.Port != nil {
		if *rh.Port < 1 || *rh.Port > 65535 {
			return nil, fieldErr(path+".port", "must be between 1 and 65535")
		}
		rule.Port = *rh.Port
	} else {
		port, ok := firstContainerPort(ports)
		if !ok {
			return nil, fieldErr(path+".port", "is required when the service publishes no ports")
		}
		rule.Port = port
	}

	if rh.Retries != nil {
		if *rh.Retries < 1 {
			return nil, fieldErr(path+".retries", "must be at least 1")
		}
		rule.Retries = *rh.Retries
	}

	if rh.Interval != nil {
		d, err := seconds(*rh.Interval)
		if err != nil {
			return nil, fieldErr(path+".interval", "%v", err)
		}
		rule.Interval = d
	}

	if rh.Timeout != nil {
		d, err := seconds(*rh.Timeout)
		if err != nil {
			return nil, fieldErr(path+".timeout", "%v", err)
		}
		rule.Timeout = d
	}

	return rule, nil
}

func buildRule(path string, rr *rawRule) (types.OptimizationRule, error) {
	rule := types.OptimizationRule{
		Metric:   types.Metric(rr.Metric),
		Action:   types.Action(rr.Action),
		Replicas: 1,
	}

	if rule.Metric != types.MetricCPUUsage {
		return rule, fieldErr(path+".metric", "unsupported metric %q (want %s)", rr.Metric, types.MetricCPUUsage)
	}
	if rule.Action != types.ActionScaleUp {
		return rule, fieldErr(path+".action", "unsupported action %q (want %s)", rr.Action, types.ActionScaleUp)
	}

	if rr.Threshold == nil {
		return rule, fieldErr(path+".threshold", "is required")
	}
	if *rr.Threshold <= 0 || math.IsNaN(*rr.Threshold) || math.IsInf(*rr.Threshold, 0) {
		return rule, fieldErr(path+".threshold", "must be a positive percentage")
	}
	rule.Threshold = *rr.Threshold

	if rr.Replicas != nil {
		if *rr.Replicas < 1 {
			return rule, fieldErr(path+".replicas", "must be at least 1")
		}
		rule.Replicas = *rr.Replicas
	}

	return rule, nil
}

func seconds(v float64) (time.Duration, error) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("must be a positive number of seconds")
	}
	return time.Duration(v * float64(time.Second)), nil
}

// firstContainerPort returns the container side of the first port mapping
func firstContainerPort(specs []string) (int, bool) {
	for _, spec := range specs {
		mappings, err := nat.ParsePortSpec(spec)
		if err != nil || len(mappings) == 0 {
			continue
		}
		return mappings[0].Port.Int(), true
	}
	return 0, false
}

// envList accepts both the list ("KEY=value") and mapping forms
type envList []string

func (e *envList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*e = list
	case yaml.MappingNode:
		list := make([]string, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, val := value.Content[i], value.Content[i+1]
			if val.Tag == "!!null" {
				list = append(list, key.Value)
				continue
			}
			list = append(list, key.Value+"="+val.Value)
		}
		*e = list
	default:
		return fmt.Errorf("environment must be a list or a mapping")
	}
	return nil
}

// buildContext accepts "build: ./dir" and "build: {context: ./dir}"
type buildContext string

func (b *buildContext) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*b = buildContext(value.Value)
	case yaml.MappingNode:
		var m struct {
			Context string `yaml:"context"`
		}
		if err := value.Decode(&m); err != nil {
			return err
		}
		*b = buildContext(m.Context)
	default:
		return fmt.Errorf("build must be a path or a mapping with context")
	}
	return nil
}
