/*
Package health provides the probes used to decide whether a service instance
is alive.

Two probe types exist, matching the health_check rule types a service can
declare. Both implement Checker and both collapse every failure mode
(connection refused, timeout, bad status, malformed rule) into a Result with
Healthy set to false and a Message explaining why. A failed probe is an
expected steady-state signal that feeds the healing state machine, so it is
never returned as an error.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                     Prober.Probe                         │
	│   (rule, target) ─► NewChecker ─► Checker.Check(ctx)     │
	└────────┬─────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┐
	    ▼           ▼
	┌────────┐  ┌────────┐
	│  HTTP  │  │  TCP   │
	│Checker │  │Checker │
	└────────┘  └────────┘
	     │          │
	     ▼          ▼
	  GET path   Connect
	  status<400  :port

# Targets

Rules name a container port. ResolveTarget turns it into an endpoint:

  - Base containers publish their ports, so the probe goes to the mapped
    host endpoint (0.0.0.0 bindings are probed on 127.0.0.1).
  - Replicas are created without host ports and are probed on their
    address inside the environment network.

# HTTP Health Checks

	target := health.Target{Host: "127.0.0.1", Port: 8080}
	result := health.NewHTTPChecker(target, "/health", 5*time.Second).Check(ctx)

Any status below 400 is healthy. Redirects are not followed: a 302 is a
healthy answer from the service itself.

# TCP Health Checks

	result := health.NewTCPChecker(target, 5*time.Second).Check(ctx)

The probe only completes a connection; no bytes are exchanged. Only tcp
port bindings are considered when resolving the target.
*/
package health
