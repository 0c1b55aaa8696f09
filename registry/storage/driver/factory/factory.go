package factory

import (
	"fmt"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// driverFactories stores an internal mapping between storage driver names
// and their respective factories.
var driverFactories = make(map[string]StorageDriverFactory)

// StorageDriverFactory is a factory interface for creating
// storagedriver.Driver instances. Storage drivers should call Register()
// with a factory to make the driver available by name.
type StorageDriverFactory interface {
	// Create returns a new storagedriver.Driver with the given
	// parameters. Parameters will vary by driver and may be ignored.
	Create(parameters map[string]interface{}) (storagedriver.Driver, error)
}

// Register makes a storage driver available by the provided name. If
// Register is called twice with the same name or if the factory is nil, it
// panics.
func Register(name string, factory StorageDriverFactory) {
	if factory == nil {
		panic("must not provide nil StorageDriverFactory")
	}
	if _, registered := driverFactories[name]; registered {
		panic(fmt.Sprintf("StorageDriverFactory named %s already registered", name))
	}

	driverFactories[name] = factory
}

// Create a new storagedriver.Driver with the given name and parameters. To
// use a driver, the StorageDriverFactory must first be registered with the
// given name. If no driver is found, an InvalidStorageDriverError is
// returned.
func Create(name string, parameters map[string]interface{}) (storagedriver.Driver, error) {
	driverFactory, ok := driverFactories[name]
	if !ok {
		return nil, InvalidStorageDriverError{name}
	}
	return driverFactory.Create(parameters)
}

// InvalidStorageDriverError records an attempt to construct an unregistered
// storage driver.
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("storage driver not registered: %s", err.Name)
}
