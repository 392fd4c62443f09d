package app

// Version is the semantic version of the gateway, set at build time via
// -ldflags.
var Version = "0.1.0"
