// Package version reports the build identity of the agent.
//
// Version, commit, branch and build time are set at link time:
//
//	go build -ldflags "-X github.com/kbukum/discoverykit/version.Version=1.0.0"
//
// Unset values fall back to the VCS stamps the Go toolchain embeds.
package version
