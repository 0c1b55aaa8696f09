package configuration

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Version is the major.minor schema version carried in a configuration
// file's version field. Major bumps change structure or types; minor bumps
// are strictly additive, so a registry that understands 0.2 still reads a
// 0.1 file.
type Version string

// MajorMinorVersion builds a Version from its components.
func MajorMinorVersion(major, minor uint) Version {
	return Version(fmt.Sprintf("%d.%d", major, minor))
}

func (version Version) part(i int) (uint, error) {
	parts := strings.Split(string(version), ".")
	if i >= len(parts) {
		return 0, fmt.Errorf("invalid version %q", version)
	}
	n, err := strconv.ParseUint(parts[i], 10, 0)
	return uint(n), err
}

// Major returns the major component of version, or zero when it is
// malformed.
func (version Version) Major() uint {
	major, _ := version.part(0)
	return major
}

// Minor returns the minor component of version, or zero when it is
// malformed.
func (version Version) Minor() uint {
	minor, _ := version.part(1)
	return minor
}

// VersionedParseInfo ties one schema version to the struct a file of that
// version unmarshals into and the conversion that lifts it to the current
// Configuration shape.
type VersionedParseInfo struct {
	// Version this entry parses.
	Version Version
	// ParseAs is the struct type files of this version unmarshal into.
	ParseAs reflect.Type
	// ConversionFunc converts the parsed value (of type ParseAs) into
	// the current configuration type.
	ConversionFunc func(interface{}) (interface{}, error)
}

// Parser parses a versioned YAML configuration and folds environment
// overrides on top of the file's values.
type Parser struct {
	prefix  string
	mapping map[Version]VersionedParseInfo
	env     map[string]string
}

// NewParser returns a Parser recognizing the given schema versions.
// Environment variables starting with prefix override file values; the
// environment is captured once, at construction.
func NewParser(prefix string, parseInfos []VersionedParseInfo) *Parser {
	p := &Parser{
		prefix:  prefix,
		mapping: make(map[Version]VersionedParseInfo, len(parseInfos)),
		env:     make(map[string]string),
	}
	for _, info := range parseInfos {
		p.mapping[info.Version] = info
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		p.env[k] = v
	}
	return p
}

// Parse unmarshals in into v, dispatching on the file's version field.
// Environment override names follow the structure of the configuration,
// one uppercased segment per nesting level: PACKDOCK_LOG_LEVEL=debug
// replaces log.level, and PACKDOCK_STORAGE_FILESYSTEM_ROOTDIRECTORY
// replaces the filesystem driver's rootdirectory parameter. The version
// itself cannot be overridden.
func (p *Parser) Parse(in []byte, v interface{}) error {
	var versioned struct {
		Version Version
	}
	if err := yaml.Unmarshal(in, &versioned); err != nil {
		return err
	}

	info, ok := p.mapping[versioned.Version]
	if !ok {
		return fmt.Errorf("unsupported configuration version %q", versioned.Version)
	}

	parsed := reflect.New(info.ParseAs)
	if err := yaml.Unmarshal(in, parsed.Interface()); err != nil {
		return err
	}
	if err := p.overrideStruct(parsed, p.prefix); err != nil {
		return err
	}

	converted, err := info.ConversionFunc(parsed.Interface())
	if err != nil {
		return err
	}
	reflect.ValueOf(v).Elem().Set(reflect.Indirect(reflect.ValueOf(converted)))
	return nil
}

// overrideStruct walks a struct value and replaces every field whose
// derived environment name is set, then recurses into the field under the
// extended prefix.
func (p *Parser) overrideStruct(v reflect.Value, prefix string) error {
	for v.Kind() == reflect.Ptr {
		v = reflect.Indirect(v)
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			name := strings.ToUpper(prefix + "_" + field.Name)
			if raw, ok := p.env[name]; ok {
				val := reflect.New(field.Type)
				if err := yaml.Unmarshal([]byte(raw), val.Interface()); err != nil {
					return err
				}
				v.Field(i).Set(reflect.Indirect(val))
			}
			if err := p.overrideStruct(v.Field(i), name); err != nil {
				return err
			}
		}
	case reflect.Map:
		return p.overrideMap(v, prefix)
	}
	return nil
}

// overrideMap recurses into existing map entries under their key's prefix
// and lets the environment inject whole entries by name, so
// PACKDOCK_UPLINKS_NPMJS_TIMEOUT reaches into a configured uplink while
// PACKDOCK_STORAGE_INMEMORY can introduce a driver section wholesale.
func (p *Parser) overrideMap(m reflect.Value, prefix string) error {
	switch m.Type().Elem().Kind() {
	case reflect.Struct:
		for _, k := range m.MapKeys() {
			name := strings.ToUpper(fmt.Sprintf("%s_%s", prefix, k))
			if err := p.overrideStruct(m.MapIndex(k), name); err != nil {
				return err
			}
		}
		return p.overrideMapEntries(m, prefix)
	case reflect.Map:
		for _, k := range m.MapKeys() {
			name := strings.ToUpper(fmt.Sprintf("%s_%s", prefix, k))
			if err := p.overrideMap(m.MapIndex(k), name); err != nil {
				return err
			}
		}
		return nil
	default:
		return p.overrideMapEntries(m, prefix)
	}
}

// overrideMapEntries scans the captured environment for PREFIX_<KEY> names
// and sets the matching map entries, keys lowercased.
func (p *Parser) overrideMapEntries(m reflect.Value, prefix string) error {
	pattern, err := regexp.Compile(fmt.Sprintf("^%s_([A-Z0-9]+)$", strings.ToUpper(prefix)))
	if err != nil {
		return err
	}
	for key, raw := range p.env {
		sub := pattern.FindStringSubmatch(key)
		if sub == nil {
			continue
		}
		val := reflect.New(m.Type().Elem())
		if err := yaml.Unmarshal([]byte(raw), val.Interface()); err != nil {
			return err
		}
		m.SetMapIndex(reflect.ValueOf(strings.ToLower(sub[1])), reflect.Indirect(val))
	}
	return nil
}
