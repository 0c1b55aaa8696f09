// Package packdock defines the data model shared by the components of the
// packdock registry. A Manifest describes a package and every version known
// for it; the storage, uplink and federation layers all operate on these
// types.
//
// The package also carries the registry-wide error types. Lower layers
// translate backend failures into these errors so callers can map them onto
// wire responses without inspecting driver internals.
package packdock
