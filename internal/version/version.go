package version

// Version is overridden at build time with -ldflags "-X room-capture/internal/version.Version=...".
var Version = "dev"
