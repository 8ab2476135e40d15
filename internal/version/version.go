// Package version carries build identity, stamped at link time via
// -ldflags and surfaced in artifact provenance.
package version

var (
	// Version is the converter release.
	Version = "1.0.0"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Converter is the identity string written into every artifact's
// provenance and compliance payload.
func Converter() string {
	return "oomapper/" + Version
}
