package storage

import (
	"github.com/docker/go-metrics"

	prometheus "github.com/packdock/packdock/metrics"
)

var (
	// manifestOps counts manifest operations against the backing driver.
	manifestOps = prometheus.StorageNamespace.NewLabeledCounter(
		"manifest_operations", "The number of manifest operations", "operation")

	// tarballOps counts tarball stream opens against the backing driver.
	tarballOps = prometheus.StorageNamespace.NewLabeledCounter(
		"tarball_operations", "The number of tarball operations", "operation")
)

func init() {
	metrics.Register(prometheus.StorageNamespace)
	manifestOps.WithValues("read").Inc(0)
	manifestOps.WithValues("write").Inc(0)
	tarballOps.WithValues("read").Inc(0)
	tarballOps.WithValues("write").Inc(0)
}
