package client

import "fmt"

var (
	// Version info (set via ldflags during build)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// UserAgent returns the User-Agent string sent on API requests
func UserAgent() string {
	return fmt.Sprintf("%s-cli/%s", projectName, Version)
}

// printVersion prints version information
func printVersion() error {
	fmt.Printf("%s-cli %s\n", projectName, Version)
	fmt.Printf("  commit: %s\n", GitCommit)
	fmt.Printf("  built:  %s\n", BuildDate)
	return nil
}
