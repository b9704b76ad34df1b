//go:build mage
// +build mage

package main

import (
	"github.com/grafana/grafana-plugin-sdk-go/build"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default builds the plugin backend and the standalone gateway
func Default() {
	mg.Deps(Plugin, Gateway)
}

// Plugin builds the Grafana plugin backend for all platforms
func Plugin() error {
	return build.BuildAll()
}

// Gateway builds the standalone gateway binary
func Gateway() error {
	return sh.RunV("go", "build", "-o", "dist/ops-chat-gateway", "./cmd/gateway")
}

// Test runs the unit tests
func Test() error {
	return sh.RunV("go", "test", "./...")
}
