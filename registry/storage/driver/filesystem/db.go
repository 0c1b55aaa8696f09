package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// databaseFilename is kept byte-compatible with the verdaccio filesystem
// layout so an existing storage directory can be served as-is.
const databaseFilename = ".verdaccio-db.json"

// database is the global package index plus the driver's small persistent
// oddments (signing secret, API tokens). It is a single JSON file guarded by
// one mutex; package index churn is rare compared to manifest traffic.
type database struct {
	path string

	mu sync.Mutex
}

type databaseContents struct {
	List   []string                       `json:"list"`
	Secret string                         `json:"secret"`
	Tokens map[string][]storagedriver.Token `json:"tokens,omitempty"`
}

func newDatabase(path string) *database {
	return &database{path: path}
}

// load reads the database file, treating a missing file as empty.
func (db *database) load() (*databaseContents, error) {
	contents := &databaseContents{}
	payload, err := os.ReadFile(db.path)
	if err != nil {
		if os.IsNotExist(err) {
			return contents, nil
		}
		return nil, storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	if err := json.Unmarshal(payload, contents); err != nil {
		return nil, storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return contents, nil
}

func (db *database) store(contents *databaseContents) error {
	payload, err := json.Marshal(contents)
	if err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return atomicWriteFile(db.path, payload)
}

func (db *database) add(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	contents, err := db.load()
	if err != nil {
		return err
	}
	for _, existing := range contents.List {
		if existing == name {
			return nil
		}
	}
	contents.List = append(contents.List, name)
	sort.Strings(contents.List)
	return db.store(contents)
}

func (db *database) remove(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	contents, err := db.load()
	if err != nil {
		return err
	}
	for i, existing := range contents.List {
		if existing == name {
			contents.List = append(contents.List[:i], contents.List[i+1:]...)
			return db.store(contents)
		}
	}
	return storagedriver.PackageNotFoundError{Name: name, DriverName: driverName}
}

func (db *database) list() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	contents, err := db.load()
	if err != nil {
		return nil, err
	}
	return contents.List, nil
}

func matchQuery(name, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(name, query)
}

// SaveToken implements storagedriver.TokenStore.
func (d *Driver) SaveToken(ctx context.Context, token storagedriver.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db := d.db
	db.mu.Lock()
	defer db.mu.Unlock()

	contents, err := db.load()
	if err != nil {
		return err
	}
	if contents.Tokens == nil {
		contents.Tokens = map[string][]storagedriver.Token{}
	}
	tokens := contents.Tokens[token.User]
	for i, existing := range tokens {
		if existing.Key == token.Key {
			tokens[i] = token
			contents.Tokens[token.User] = tokens
			return db.store(contents)
		}
	}
	contents.Tokens[token.User] = append(tokens, token)
	return db.store(contents)
}

// DeleteToken implements storagedriver.TokenStore.
func (d *Driver) DeleteToken(ctx context.Context, user, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db := d.db
	db.mu.Lock()
	defer db.mu.Unlock()

	contents, err := db.load()
	if err != nil {
		return err
	}
	tokens := contents.Tokens[user]
	for i, existing := range tokens {
		if existing.Key == key {
			contents.Tokens[user] = append(tokens[:i], tokens[i+1:]...)
			return db.store(contents)
		}
	}
	return storagedriver.PackageNotFoundError{Name: user + "/" + key, DriverName: driverName}
}

// ReadTokens implements storagedriver.TokenStore.
func (d *Driver) ReadTokens(ctx context.Context, user string) ([]storagedriver.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db := d.db
	db.mu.Lock()
	defer db.mu.Unlock()

	contents, err := db.load()
	if err != nil {
		return nil, err
	}
	return contents.Tokens[user], nil
}
