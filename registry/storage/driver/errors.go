package driver

import "fmt"

// PackageNotFoundError is returned when operating on a package the driver
// has no state for.
type PackageNotFoundError struct {
	Name string

	// DriverName is the name of the driver that returned the error.
	DriverName string
}

func (err PackageNotFoundError) Error() string {
	return fmt.Sprintf("%s: package not found: %s", err.DriverName, err.Name)
}

// FileNotFoundError is returned when operating on a tarball that is not
// stored for the package.
type FileNotFoundError struct {
	Name     string
	Filename string

	DriverName string
}

func (err FileNotFoundError) Error() string {
	return fmt.Sprintf("%s: file not found: %s/%s", err.DriverName, err.Name, err.Filename)
}

// Error is a catch-all wrapper for unexpected driver failures, preserving
// the driver name for error reporting.
type Error struct {
	DriverName string
	Enclosed   error
}

func (err Error) Error() string {
	return fmt.Sprintf("%s: %s", err.DriverName, err.Enclosed)
}

func (err Error) Unwrap() error {
	return err.Enclosed
}
