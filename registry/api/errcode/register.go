package errcode

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

var (
	errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	idToDescriptors        = map[string]ErrorDescriptor{}
	groupToDescriptors     = map[string][]ErrorDescriptor{}
)

var (
	// ErrorCodeUnknown is a generic error used as a last resort if no
	// situation-specific code applies.
	ErrorCodeUnknown = register("errcode", ErrorDescriptor{
		Value:          "UNKNOWN",
		Message:        "internal server error",
		HTTPStatusCode: http.StatusInternalServerError,
	})

	// ErrorCodeUnsupported is returned when the configured storage driver
	// lacks an optional capability the request needs.
	ErrorCodeUnsupported = register("errcode", ErrorDescriptor{
		Value:          "UNSUPPORTED",
		Message:        "operation not supported by the storage backend",
		HTTPStatusCode: http.StatusServiceUnavailable,
	})

	// ErrorCodeUnauthorized is returned if a request requires
	// authentication.
	ErrorCodeUnauthorized = register("errcode", ErrorDescriptor{
		Value:          "UNAUTHORIZED",
		Message:        "authentication required",
		HTTPStatusCode: http.StatusUnauthorized,
	})

	// ErrorCodeDenied is returned if a client does not have sufficient
	// permission to perform an action.
	ErrorCodeDenied = register("errcode", ErrorDescriptor{
		Value:          "DENIED",
		Message:        "requested access to the resource is denied",
		HTTPStatusCode: http.StatusForbidden,
	})
)

const errGroup = "registry.api"

var (
	// ErrorCodePackageUnknown is returned when a package is known neither
	// locally nor by any eligible uplink.
	ErrorCodePackageUnknown = register(errGroup, ErrorDescriptor{
		Value:          "PACKAGE_UNKNOWN",
		Message:        "no such package available",
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeVersionUnknown is returned when a version or dist-tag
	// cannot be resolved within a package.
	ErrorCodeVersionUnknown = register(errGroup, ErrorDescriptor{
		Value:          "VERSION_UNKNOWN",
		Message:        "version not found: %s",
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeTarballUnknown is returned when a tarball exists neither
	// locally nor as a recorded upstream pointer.
	ErrorCodeTarballUnknown = register(errGroup, ErrorDescriptor{
		Value:          "TARBALL_UNKNOWN",
		Message:        "no such file available",
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeTagUnknown is returned for operations on a dist-tag the
	// package does not carry.
	ErrorCodeTagUnknown = register(errGroup, ErrorDescriptor{
		Value:          "TAG_UNKNOWN",
		Message:        "tag not found: %s",
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeVersionExists is returned on an attempt to republish an
	// existing version.
	ErrorCodeVersionExists = register(errGroup, ErrorDescriptor{
		Value:          "VERSION_EXISTS",
		Message:        "this package is already present",
		HTTPStatusCode: http.StatusConflict,
	})

	// ErrorCodeRevisionMismatch is returned when the _rev presented with a
	// mutation does not match the stored revision.
	ErrorCodeRevisionMismatch = register(errGroup, ErrorDescriptor{
		Value:          "REVISION_MISMATCH",
		Message:        "revision does not match the stored document",
		HTTPStatusCode: http.StatusConflict,
	})

	// ErrorCodeBadData is returned for structurally invalid manifests and
	// checksum disagreements during publish.
	ErrorCodeBadData = register(errGroup, ErrorDescriptor{
		Value:          "BAD_DATA",
		Message:        "bad incoming package data",
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeNameInvalid is returned for package names that violate npm
	// naming rules.
	ErrorCodeNameInvalid = register(errGroup, ErrorDescriptor{
		Value:          "NAME_INVALID",
		Message:        "invalid package name",
		HTTPStatusCode: http.StatusForbidden,
	})

	// ErrorCodeBadRequest is returned for malformed request bodies.
	ErrorCodeBadRequest = register(errGroup, ErrorDescriptor{
		Value:          "BAD_REQUEST",
		Message:        "malformed request body",
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeUplinkOffline is returned when an uplink's circuit breaker
	// rejects the only path to the requested content.
	ErrorCodeUplinkOffline = register(errGroup, ErrorDescriptor{
		Value:          "UPLINK_OFFLINE",
		Message:        "uplink is temporarily unavailable",
		HTTPStatusCode: http.StatusServiceUnavailable,
	})

	// ErrorCodeContentMismatch is returned when an upstream transfer ends
	// short of its announced length.
	ErrorCodeContentMismatch = register(errGroup, ErrorDescriptor{
		Value:          "CONTENT_MISMATCH",
		Message:        "content length mismatch while fetching from uplink",
		HTTPStatusCode: http.StatusBadGateway,
	})
)

var (
	nextCode     = 1000
	registerLock sync.Mutex
)

// Register will make the passed-in error known to the environment and
// return a new ErrorCode
func Register(group string, descriptor ErrorDescriptor) ErrorCode {
	return register(group, descriptor)
}

// register will make the passed-in error known to the environment and
// return a new ErrorCode
func register(group string, descriptor ErrorDescriptor) ErrorCode {
	registerLock.Lock()
	defer registerLock.Unlock()

	descriptor.Code = ErrorCode(nextCode)

	if _, ok := idToDescriptors[descriptor.Value]; ok {
		panic(fmt.Sprintf("ErrorValue %q is already registered", descriptor.Value))
	}
	if _, ok := errorCodeToDescriptors[descriptor.Code]; ok {
		panic(fmt.Sprintf("ErrorCode %v is already registered", descriptor.Code))
	}

	groupToDescriptors[group] = append(groupToDescriptors[group], descriptor)
	errorCodeToDescriptors[descriptor.Code] = descriptor
	idToDescriptors[descriptor.Value] = descriptor

	nextCode++
	return descriptor.Code
}

type byValue []ErrorDescriptor

func (a byValue) Len() int           { return len(a) }
func (a byValue) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byValue) Less(i, j int) bool { return a[i].Value < a[j].Value }

// GetGroupNames returns the list of Error group names that are registered
func GetGroupNames() []string {
	keys := []string{}

	for k := range groupToDescriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetErrorCodeGroup returns the named group of error descriptors
func GetErrorCodeGroup(name string) []ErrorDescriptor {
	desc := groupToDescriptors[name]
	sort.Sort(byValue(desc))
	return desc
}

// GetErrorAllDescriptors returns a slice of all ErrorDescriptors that are
// registered, irrespective of what group they're in
func GetErrorAllDescriptors() []ErrorDescriptor {
	result := []ErrorDescriptor{}

	for _, group := range GetGroupNames() {
		result = append(result, GetErrorCodeGroup(group)...)
	}
	sort.Sort(byValue(result))
	return result
}
