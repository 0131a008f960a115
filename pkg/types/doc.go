/*
Package types defines the data model shared by every autotest package.

An Environment is one isolated deployment: a network plus one base container
per declared service, and any replicas the scaling controller adds later.
Every resource of an environment carries the LabelEnvironment label, which is
the only persisted state the system has. Anything held in memory (failure
counters, last probe outcomes, evaluation timestamps) is a cache that is
rebuilt from those labels whenever a monitor attaches.

# Core Types

Declarative model (loaded by package config):
  - ServiceSpec: image or build context, ports, environment, rules
  - HealthCheckRule: http_get or tcp_connect probe with retries and interval
  - OptimizationRule: cpu_usage threshold that triggers scale_up

Runtime model (owned by package registry):
  - ServiceState: the base Instance and replica Instances of a service
  - Instance: one container with its consecutive failure counter

# Naming

	Environment ID:  autotest-env-1a2b3c4d
	Network:         autotest-env-1a2b3c4d-net
	Base container:  autotest-env-1a2b3c4d-web
	Replica:         autotest-env-1a2b3c4d-web-r9f8e7d

# Labels

	autotest.env.name     = <environment id>   (every resource)
	autotest.env.created  = <RFC3339>          (every resource)
	autotest.service      = <service name>     (containers)
	autotest.role         = base | replica     (containers)
	autotest.replica      = <suffix>           (replicas)
*/
package types
