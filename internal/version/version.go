// ABOUTME: Version and product identification constants
// ABOUTME: Printed by -version and sent as the hub HTTP user agent
package version

// Version is overridden with -ldflags "-X .../internal/version.Version=..."
var Version = "0.3.0"

const (
	Product      = "Yocto AudioOut Control"
	Manufacturer = "yoctolink"
)

// UserAgent returns the HTTP User-Agent sent to hubs.
func UserAgent() string {
	return "yocto-audioout/" + Version
}
