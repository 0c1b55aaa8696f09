package metrics

import "github.com/docker/go-metrics"

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "packdock"
)

var (
	// StorageNamespace is the prometheus namespace of manifest/tarball storage operations
	StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)

	// UplinkNamespace is the prometheus namespace of upstream registry traffic
	UplinkNamespace = metrics.NewNamespace(NamespacePrefix, "uplink", nil)

	// FederationNamespace is the prometheus namespace of federated read-through operations
	FederationNamespace = metrics.NewNamespace(NamespacePrefix, "federation", nil)
)
