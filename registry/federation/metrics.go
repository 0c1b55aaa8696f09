package federation

import (
	"github.com/docker/go-metrics"

	prometheus "github.com/packdock/packdock/metrics"
)

var (
	// requests is the number of total incoming federated reads for manifest/tarball
	requests = prometheus.FederationNamespace.NewLabeledCounter("requests", "The number of total incoming federated read requests", "type")
	// hits is the number of federated reads served from the local cache for manifest/tarball
	hits = prometheus.FederationNamespace.NewLabeledCounter("hits", "The number of federated reads served from the local cache", "type")
	// misses is the number of federated reads that had to consult an uplink for manifest/tarball
	misses = prometheus.FederationNamespace.NewLabeledCounter("misses", "The number of federated reads that consulted an uplink", "type")
	// pulledBytes is the size of total tarball bytes written through into the local cache
	pulledBytes = prometheus.FederationNamespace.NewLabeledCounter("pulled_bytes", "The size of total bytes written through into the local cache", "type")
)

func init() {
	metrics.Register(prometheus.FederationNamespace)
	for _, value := range []string{"manifest", "tarball"} {
		requests.WithValues(value).Inc(0)
		hits.WithValues(value).Inc(0)
		misses.WithValues(value).Inc(0)
		pulledBytes.WithValues(value).Inc(0)
	}
}
