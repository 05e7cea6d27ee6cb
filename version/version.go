package version

// will be replaced with the release version by the build pipeline
var version = "development"

// Version returns the installer build version.
func Version() string {
	return version
}
