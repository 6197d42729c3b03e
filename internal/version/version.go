// ABOUTME: Version and product identification constants
// ABOUTME: Reported by the version command and in server/hello
package version

const (
	// Version is the soundboard release
	Version = "0.3.0"

	// Product is the human readable product name
	Product = "Soundboard"

	// Manufacturer is advertised alongside the product name
	Manufacturer = "Resonate"
)

// Software identifies this build to remote clients, e.g. "Soundboard/0.3.0"
func Software() string {
	return Product + "/" + Version
}
