package version

// AppVersion is overridden at build time with -ldflags "-X devgate/version.AppVersion=...".
var AppVersion = "v0.3.0-dev"
