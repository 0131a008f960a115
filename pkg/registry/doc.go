// Package registry caches the runtime state of environments.
//
// Runtime labels are the only persisted state. Rebuild reconstructs an
// environment's services, base containers and replicas from the labels the
// deployer and scaler applied, so a monitor can attach to an environment
// at any time. Rebuilt instances always start with a failure counter of 0.
package registry
