package db

// Release version of the library.
const (
	MajorVersion = 1
	MinorVersion = 0
)

// Version returns MajorVersion and MinorVersion.
func Version() (major, minor int) { return MajorVersion, MinorVersion }
