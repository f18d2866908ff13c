package version

// Application version information, set at build time with
// -ldflags "-X github.com/avioli/imagemin-glitch/pkg/version.Version=..."
var (
	Version = "dev"
	Commit  = ""
)

// String returns the version with the short commit when known.
func String() string {
	if Commit == "" {
		return Version
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return Version + " (" + short + ")"
}
