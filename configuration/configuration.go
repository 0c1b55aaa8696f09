// Package configuration loads the registry's yaml configuration and applies
// PACKDOCK_* environment overrides on top of it.
package configuration

import (
	"fmt"
	"io"
	"path"
	"reflect"
	"strings"
	"time"
)

// Configuration is a versioned registry configuration, intended to be
// provided by a yaml file, and optionally modified by environment variables.
type Configuration struct {
	// Version is the version which defines the format of the rest of
	// the configuration
	Version Version `yaml:"version"`

	// Log supplies logging configuration.
	Log struct {
		// Level is the granularity at which registry operations are
		// logged.
		Level Loglevel `yaml:"level"`

		// Formatter overrides the default log output format. One of
		// "text" or "json".
		Formatter string `yaml:"formatter,omitempty"`

		// Fields is a map of field names to values that are added to
		// every log line.
		Fields map[string]interface{} `yaml:"fields,omitempty"`
	} `yaml:"log"`

	// Storage selects and configures the storage driver.
	Storage Storage `yaml:"storage"`

	// Uplinks configures the upstream registries, keyed by name. The
	// declaration order of uplinks in yaml is not preserved; merge
	// precedence follows the sorted key order.
	Uplinks map[string]Uplink `yaml:"uplinks,omitempty"`

	// Packages holds the ordered per-package access rules. The first
	// rule whose pattern matches a package name applies. Without any
	// rules every package may be proxied through every uplink.
	Packages Packages `yaml:"packages,omitempty"`

	// HTTP contains configuration parameters for the registry's http
	// interface.
	HTTP struct {
		// Addr specifies the bind address for the registry instance.
		Addr string `yaml:"addr"`

		// Prefix is the path prefix the registry is mounted under,
		// included in rewritten tarball URLs.
		Prefix string `yaml:"prefix,omitempty"`

		// Host overrides the externally reachable host used in
		// rewritten tarball URLs. When empty the request's Host
		// header is used.
		Host string `yaml:"host,omitempty"`

		// Debug configures a separate listener for profiling and
		// metrics.
		Debug struct {
			Addr string `yaml:"addr,omitempty"`
		} `yaml:"debug,omitempty"`
	} `yaml:"http"`

	// Redis configures the optional redis connection used for API token
	// persistence. When unset, tokens are persisted through the storage
	// driver if it has that capability.
	Redis struct {
		Addr     string `yaml:"addr,omitempty"`
		Password string `yaml:"password,omitempty"`
		DB       int    `yaml:"db,omitempty"`
	} `yaml:"redis,omitempty"`

	// Debug freezes revision token generation so fixtures stay
	// reproducible. Never enable it in production.
	Debug bool `yaml:"_debug,omitempty"`
}

// v0_1Configuration is a Version 0.1 Configuration struct
// This is currently aliased to Configuration, as it is the current version
type v0_1Configuration Configuration

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a string of the form X.Y into a Version, validating that X and Y can represent uints
func (version *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var versionString string
	err := unmarshal(&versionString)
	if err != nil {
		return err
	}

	newVersion := Version(versionString)
	if _, err := newVersion.part(0); err != nil {
		return err
	}

	if _, err := newVersion.part(1); err != nil {
		return err
	}

	*version = newVersion
	return nil
}

// CurrentVersion is the most recent Version that can be parsed
var CurrentVersion = MajorMinorVersion(0, 1)

// Loglevel is the level at which operations are logged
// This can be error, warn, info, or debug
type Loglevel string

// UnmarshalYAML implements the yaml.Umarshaler interface
// Unmarshals a string into a Loglevel, lowercasing the string and validating that it represents a
// valid loglevel
func (loglevel *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var loglevelString string
	err := unmarshal(&loglevelString)
	if err != nil {
		return err
	}

	loglevelString = strings.ToLower(loglevelString)
	switch loglevelString {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %s Must be one of [error, warn, info, debug]", loglevelString)
	}

	*loglevel = Loglevel(loglevelString)
	return nil
}

// Parameters defines a key-value parameters mapping
type Parameters map[string]interface{}

// Storage defines the configuration for registry package storage
type Storage map[string]Parameters

// Type returns the storage driver type, such as filesystem or inmemory
func (storage Storage) Type() string {
	// Return only key in this map
	for k := range storage {
		return k
	}
	return ""
}

// Parameters returns the Parameters map for a Storage configuration
func (storage Storage) Parameters() Parameters {
	return storage[storage.Type()]
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a single item map into a Storage or a string into a Storage type with no parameters
func (storage *Storage) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var storageMap map[string]Parameters
	err := unmarshal(&storageMap)
	if err == nil {
		if len(storageMap) > 1 {
			types := make([]string, 0, len(storageMap))
			for k := range storageMap {
				types = append(types, k)
			}
			return fmt.Errorf("must provide exactly one storage type. Provided: %v", types)
		}
		*storage = storageMap
		return nil
	}

	var storageType string
	err = unmarshal(&storageType)
	if err == nil {
		*storage = Storage{storageType: Parameters{}}
		return nil
	}

	return err
}

// MarshalYAML implements the yaml.Marshaler interface
func (storage Storage) MarshalYAML() (interface{}, error) {
	if storage.Parameters() == nil {
		return storage.Type(), nil
	}
	return map[string]Parameters(storage), nil
}

// Uplink configures one upstream registry.
type Uplink struct {
	// URL is the upstream base URL.
	URL string `yaml:"url"`

	// Cache enables write-through caching of tarballs fetched from
	// this uplink.
	Cache bool `yaml:"cache"`

	// Timeout bounds each upstream request.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxFails is the number of consecutive failures within FailWindow
	// that trips the circuit breaker.
	MaxFails int `yaml:"max_fails,omitempty"`

	// FailWindow is the rolling window for MaxFails and the base
	// cool-down once the breaker trips.
	FailWindow time.Duration `yaml:"fail_window,omitempty"`

	// MaxRetries bounds transport-level retries per request.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// PackageRule couples a name pattern with the uplinks allowed for the
// packages it matches.
type PackageRule struct {
	// Pattern is a path-style glob matched against package names.
	// "**" matches every package; "*" does not cross the scope
	// separator, so "@internal/*" covers one scope.
	Pattern string `yaml:"pattern"`

	// Proxy lists the uplink names that may serve matching packages.
	// An empty list makes them private.
	Proxy []string `yaml:"proxy,omitempty"`
}

// Packages is an ordered rule list; the first matching rule applies.
type Packages []PackageRule

// UplinksFor returns the uplink names allowed for name. Packages matching
// no rule are private.
func (p Packages) UplinksFor(name string) []string {
	for _, rule := range p {
		if rule.matches(name) {
			return rule.Proxy
		}
	}
	return nil
}

func (r PackageRule) matches(name string) bool {
	if r.Pattern == "**" {
		return true
	}
	ok, err := path.Match(r.Pattern, name)
	return err == nil && ok
}

// Validate checks cross-field consistency that yaml decoding alone cannot.
func (config *Configuration) Validate() error {
	if config.Storage.Type() == "" {
		return fmt.Errorf("no storage configuration provided")
	}
	for name, up := range config.Uplinks {
		if up.URL == "" {
			return fmt.Errorf("uplink %q has no url", name)
		}
	}
	for _, rule := range config.Packages {
		if rule.Pattern == "" {
			return fmt.Errorf("package rule with empty pattern")
		}
		for _, proxy := range rule.Proxy {
			if _, ok := config.Uplinks[proxy]; !ok {
				return fmt.Errorf("package rule %q references unknown uplink %q", rule.Pattern, proxy)
			}
		}
	}
	return nil
}

// Parse parses an input configuration yaml document into a Configuration struct
// This should generally be capable of handling old configuration format versions
//
// Environment variables may be used to override configuration parameters other than version,
// following the scheme below:
// Configuration.Abc may be replaced by the value of PACKDOCK_ABC,
// Configuration.Abc.Xyz may be replaced by the value of PACKDOCK_ABC_XYZ, and so forth
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("packdock", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(0, 1),
			ParseAs: reflect.TypeOf(v0_1Configuration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				v0_1, ok := c.(*v0_1Configuration)
				if !ok {
					return nil, fmt.Errorf("expected *v0_1Configuration, received %#v", c)
				}
				if v0_1.Log.Level == Loglevel("") {
					v0_1.Log.Level = Loglevel("info")
				}
				if err := (*Configuration)(v0_1).Validate(); err != nil {
					return nil, err
				}
				return (*Configuration)(v0_1), nil
			},
		},
	})

	config := new(Configuration)
	err = p.Parse(in, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
