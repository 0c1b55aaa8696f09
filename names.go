package packdock

import (
	"regexp"
	"strings"
)

// NameTotalLengthMax is the maximum number of characters in a package name,
// scope included. This matches the limit enforced by the public npm
// registry.
const NameTotalLengthMax = 214

// nameRegexp matches a single unscoped name component. Names are lowercase,
// must not begin with a dot, hyphen or underscore, and are restricted to
// URL-safe characters.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9._~-]*$|^[a-z0-9]$`)

// ValidateName checks a package name, scoped ("@scope/name") or plain,
// against the registry naming rules. It returns ErrNameInvalid on failure.
func ValidateName(name string) error {
	if name == "" || len(name) > NameTotalLengthMax {
		return ErrNameInvalid{Name: name}
	}
	scope, base := SplitScope(name)
	if scope != "" {
		if !strings.HasPrefix(scope, "@") || !nameRegexp.MatchString(scope[1:]) {
			return ErrNameInvalid{Name: name}
		}
	}
	if base == "." || base == ".." || !nameRegexp.MatchString(base) {
		return ErrNameInvalid{Name: name}
	}
	return nil
}

// SplitScope separates a scoped name into its "@scope" prefix and base
// component. The scope is empty for unscoped names.
func SplitScope(name string) (scope, base string) {
	if !strings.HasPrefix(name, "@") {
		return "", name
	}
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// TarballName returns the conventional tarball filename for a version of a
// package: "<base>-<version>.tgz". Scoped packages use only the base
// component, matching the upstream registry layout.
func TarballName(name, version string) string {
	_, base := SplitScope(name)
	return base + "-" + version + ".tgz"
}
