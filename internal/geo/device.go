package geo

import (
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "unknown"

// DescribeDevice turns a user agent into a label such as
// "Chrome 120.0 - Windows 10". It never returns an empty string: an
// unparseable agent is returned as given, an empty one as "unknown".
func DescribeDevice(userAgent string) string {
	raw := strings.TrimSpace(userAgent)
	if raw == "" {
		return unknownDevice
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}

	label := name
	if v := majorMinor(version); v != "" {
		label = fmt.Sprintf("%s %s", name, v)
	}

	os := ua.OSInfo()
	if os.Name == "" {
		return label
	}
	if os.Version == "" {
		return fmt.Sprintf("%s - %s", label, os.Name)
	}
	return fmt.Sprintf("%s - %s %s", label, os.Name, os.Version)
}

// majorMinor keeps the first two dotted components of a version
func majorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1]
	}
	return version
}
