// Package main is the entry point for devenv, the StudySprint backend
// development environment bootstrap tool.
package main

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	Execute()
}
