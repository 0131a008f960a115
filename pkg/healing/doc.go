/*
Package healing implements the per-instance self-healing state machine and
the healer that turns its decisions into scoped container restarts.

	           success                   failure, n+1 < retries
	  ┌──────────────────┐           ┌──────────────────┐
	  ▼                  │           │                  ▼
	Healthy(0) ──failure──► Degraded(n) ──failure, n+1 >= retries──► Restarting
	  ▲                                                                  │
	  └──────────────── restart issued (success or not) ─────────────────┘

Counters belong to container instances, not services: a failing replica
never affects its siblings' counters. A restart targets only the container
whose counter reached the threshold and is not retried within the tick; the
counter is 0 afterwards whether the restart succeeded or not.

The Machine is pure: it maps (counter, outcome) to a Transition. The Healer
owns the side effects: recording the outcome on the instance, issuing the
restart under its own call timeout, logging with service, container and
outcome fields, and publishing the action event.
*/
package healing
