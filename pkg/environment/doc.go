/*
Package environment deploys and tears down environments.

Deploy turns a validated configuration into one isolated environment:

	autotest-env-1a2b3c4d-net        bridge network
	autotest-env-1a2b3c4d-<service>  one base container per service,
	                                 declared ports published

Images come from the service's build context (tagged <service>:<env-id>)
or are pulled. Every network and container gets the shared
autotest.env.name label plus service and role labels; those labels are the
only record of the environment.

Teardown computes the environment's closure from that single label and
removes containers (forced, with anonymous volumes) before networks. It
never touches a resource labeled with another environment.

Deploy stops at the first failure and, unless RollbackOnFailure is set,
leaves what it created in place so the failure can be inspected.
*/
package environment
