package packdock

import (
	"encoding/json"
	"strings"
	"time"
)

// Pseudo keys used inside a manifest's time map alongside the per-version
// entries.
const (
	TimeCreated  = "created"
	TimeModified = "modified"
)

// DefaultTag is the tag npm clients resolve when none is given.
const DefaultTag = "latest"

// protoKey is stripped from every map in a manifest. Manifests are decoded
// from untrusted client input and the key would be misinterpreted by
// JavaScript consumers downstream.
const protoKey = "__proto__"

// Manifest is the full document describing a package: every published or
// remotely known version, the dist-tags, and the bookkeeping fields used by
// the cache layers. The underscore fields follow the CouchDB-flavored wire
// format of the npm registry protocol.
type Manifest struct {
	Name        string                 `json:"name"`
	Versions    map[string]Version     `json:"versions"`
	DistTags    map[string]string      `json:"dist-tags"`
	Time        map[string]string      `json:"time"`
	Users       map[string]bool        `json:"users"`
	Readme      string                 `json:"readme,omitempty"`
	Attachments map[string]Attachment  `json:"_attachments,omitempty"`
	DistFiles   map[string]DistFile    `json:"_distfiles,omitempty"`
	Uplinks     map[string]UplinkState `json:"_uplinks,omitempty"`
	Rev         string                 `json:"_rev"`
	ID          string                 `json:"_id,omitempty"`
}

// Attachment records a tarball held locally. The bytes themselves live in
// the storage backend; only the checksum and owning version are kept here.
type Attachment struct {
	Shasum  string `json:"shasum,omitempty"`
	Version string `json:"version,omitempty"`
}

// DistFile is a cached pointer to a tarball's upstream origin, used to
// locate the bytes when they are not present locally.
type DistFile struct {
	URL      string `json:"url"`
	Sha      string `json:"sha"`
	Registry string `json:"registry,omitempty"`
}

// UplinkState records per-uplink cache validation state for a package.
type UplinkState struct {
	Etag    string `json:"etag"`
	Fetched int64  `json:"fetched"`
}

// Dist locates and authenticates a version's tarball.
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum,omitempty"`
	Integrity string `json:"integrity,omitempty"`
	FileCount int    `json:"fileCount,omitempty"`
	Size      int64  `json:"unpackedSize,omitempty"`
}

// Version is the frozen snapshot of a single published release.
//
// Uplink names the upstream registry the version was learned from. It is
// internal cache state used for dist URL protocol rewriting and is never
// serialized to clients.
type Version struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Description          string            `json:"description,omitempty"`
	Keywords             []string          `json:"keywords,omitempty"`
	Author               *Person           `json:"author,omitempty"`
	Maintainers          People            `json:"maintainers,omitempty"`
	Contributors         People            `json:"contributors,omitempty"`
	Homepage             string            `json:"homepage,omitempty"`
	License              string            `json:"license,omitempty"`
	Main                 string            `json:"main,omitempty"`
	Repository           json.RawMessage   `json:"repository,omitempty"`
	Bugs                 json.RawMessage   `json:"bugs,omitempty"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	Engines              map[string]string `json:"engines,omitempty"`
	Readme               string            `json:"readme,omitempty"`
	Deprecated           string            `json:"deprecated,omitempty"`
	NodeVersion          string            `json:"_nodeVersion,omitempty"`
	NpmVersion           string            `json:"_npmVersion,omitempty"`
	ID                   string            `json:"_id,omitempty"`
	Dist                 Dist              `json:"dist"`

	Uplink string `json:"-"`
}

// Person identifies an author, maintainer or contributor.
type Person struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// People is a list of Person records. The npm wire format is loose here: a
// person may appear as an object, a bare string, or a single un-wrapped
// entry instead of an array. UnmarshalJSON accepts all of those shapes and
// normalizes to a list.
type People []Person

// UnmarshalJSON implements json.Unmarshaler.
func (p *People) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*p = nil
		return nil
	}

	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(People, 0, len(raw))
		for _, r := range raw {
			person, err := unmarshalPerson(r)
			if err != nil {
				return err
			}
			out = append(out, person)
		}
		*p = out
		return nil
	default:
		person, err := unmarshalPerson(data)
		if err != nil {
			return err
		}
		*p = People{person}
		return nil
	}
}

func unmarshalPerson(data []byte) (Person, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Person{}, err
		}
		return parsePersonString(s), nil
	}
	var person Person
	if err := json.Unmarshal(data, &person); err != nil {
		return Person{}, err
	}
	return person, nil
}

// parsePersonString splits the conventional "Name <email> (url)" form.
func parsePersonString(s string) Person {
	var person Person
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "("); i >= 0 {
		if j := strings.Index(s[i:], ")"); j > 0 {
			person.URL = strings.TrimSpace(s[i+1 : i+j])
			s = strings.TrimSpace(s[:i] + s[i+j+1:])
		}
	}
	if i := strings.Index(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			person.Email = strings.TrimSpace(s[i+1 : i+j])
			s = strings.TrimSpace(s[:i] + s[i+j+1:])
		}
	}
	person.Name = strings.TrimSpace(s)
	return person
}

// NewManifest returns an empty manifest template for name with every
// required container present and the revision at its initial value.
func NewManifest(name string) *Manifest {
	m := &Manifest{
		Name: name,
		ID:   name,
		Rev:  InitialRevision,
	}
	m.Normalize()
	return m
}

// Normalize fills absent containers with empties and strips the "__proto__"
// key at every map level, so downstream code never observes missing fields
// or the hostile key. It is applied on every manifest read.
func (m *Manifest) Normalize() {
	if m.Versions == nil {
		m.Versions = map[string]Version{}
	}
	if m.DistTags == nil {
		m.DistTags = map[string]string{}
	}
	if m.Time == nil {
		m.Time = map[string]string{}
	}
	if m.Users == nil {
		m.Users = map[string]bool{}
	}
	if m.Attachments == nil {
		m.Attachments = map[string]Attachment{}
	}
	if m.DistFiles == nil {
		m.DistFiles = map[string]DistFile{}
	}
	if m.Uplinks == nil {
		m.Uplinks = map[string]UplinkState{}
	}

	delete(m.DistTags, protoKey)
	delete(m.Time, protoKey)
	delete(m.Users, protoKey)
	delete(m.Attachments, protoKey)
	delete(m.DistFiles, protoKey)
	delete(m.Uplinks, protoKey)
	delete(m.Versions, protoKey)
	for v, ver := range m.Versions {
		ver.stripProto()
		m.Versions[v] = ver
	}
}

func (v *Version) stripProto() {
	delete(v.Dependencies, protoKey)
	delete(v.DevDependencies, protoKey)
	delete(v.PeerDependencies, protoKey)
	delete(v.OptionalDependencies, protoKey)
	delete(v.Engines, protoKey)
}

// Clone returns a deep copy of the manifest. Update transforms operate on a
// copy so a failed write never leaves a half-mutated manifest visible to
// concurrent readers.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Versions = make(map[string]Version, len(m.Versions))
	for k, v := range m.Versions {
		out.Versions[k] = v
	}
	out.DistTags = make(map[string]string, len(m.DistTags))
	for k, v := range m.DistTags {
		out.DistTags[k] = v
	}
	out.Time = make(map[string]string, len(m.Time))
	for k, v := range m.Time {
		out.Time[k] = v
	}
	out.Users = make(map[string]bool, len(m.Users))
	for k, v := range m.Users {
		out.Users[k] = v
	}
	out.Attachments = make(map[string]Attachment, len(m.Attachments))
	for k, v := range m.Attachments {
		out.Attachments[k] = v
	}
	out.DistFiles = make(map[string]DistFile, len(m.DistFiles))
	for k, v := range m.DistFiles {
		out.DistFiles[k] = v
	}
	out.Uplinks = make(map[string]UplinkState, len(m.Uplinks))
	for k, v := range m.Uplinks {
		out.Uplinks[k] = v
	}
	return &out
}

// Touch stamps time.modified, and time.created on the first write.
func (m *Manifest) Touch(now time.Time) {
	stamp := now.UTC().Format(time.RFC3339Nano)
	if _, ok := m.Time[TimeCreated]; !ok {
		m.Time[TimeCreated] = stamp
	}
	m.Time[TimeModified] = stamp
}
