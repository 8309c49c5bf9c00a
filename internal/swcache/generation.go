package swcache

import (
	"fmt"
	"strings"
)

// Generation names the current pair of cache partitions.
type Generation struct {
	Prefix  string
	Version int
}

// Static is the partition holding build assets and the pre-cache manifest.
func (g Generation) Static() string {
	return fmt.Sprintf("%s-static-v%d", g.Prefix, g.Version)
}

// Dynamic is the partition holding runtime API and navigation responses.
func (g Generation) Dynamic() string {
	return fmt.Sprintf("%s-dynamic-v%d", g.Prefix, g.Version)
}

// IsCurrent reports whether name is one of this generation's partitions.
func (g Generation) IsCurrent(name string) bool {
	return name == g.Static() || name == g.Dynamic()
}

// IsOwned reports whether name was created by this application, in any generation.
func (g Generation) IsOwned(name string) bool {
	return strings.HasPrefix(name, g.Prefix)
}
