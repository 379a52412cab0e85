package toolgate

// Version is the release of the toolgate library and CLI.
// Release builds override it with -ldflags "-X github.com/aretw0/toolgate.Version=...".
var Version = "0.4.0"
