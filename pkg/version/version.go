// Package version reports the DEVM protocol and build versions.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Protocol is the DEVM protocol version implemented by this module.
const Protocol = "1.0"

// ProtocolVersion is a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}
	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	min, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}
	return ProtocolVersion{Major: uint16(maj), Minor: uint16(min)}, nil
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible reports whether other can talk to v. Minor versions only add
// functions, so a shared major version is enough.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Build returns the module version the binary was built from, or "devel".
func Build() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}

// String is the text printed by --version.
func String() string {
	return fmt.Sprintf("%s (protocol %s)", Build(), Protocol)
}
