/*
Package scaler implements the CPU-threshold scale-out controller.

For every service with at least one cpu_usage rule, Evaluate takes one CPU
sample of the service's base container. The first rule whose threshold the
sample strictly exceeds fires, and its batch of replicas is created:

  - same image (or built tag) and environment as the base container
  - attached to the environment network
  - no host port publication
  - labeled with the environment, service, replica role and a suffix that
    is regenerated until it is unique within the service

There is no scale-down and no cooldown: a sample that stays above the
threshold adds another full batch on the next evaluation. The only bound is
the optional max_replicas cap, which truncates a batch instead of
silently skipping it.

A failed sample skips scaling for the tick. A failed creation is logged and
reported; it does not count as a replica and does not stop the rest of the
batch.
*/
package scaler
