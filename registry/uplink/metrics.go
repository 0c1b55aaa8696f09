package uplink

import (
	"github.com/docker/go-metrics"

	prometheus "github.com/packdock/packdock/metrics"
)

var (
	// requestFailures counts failed upstream requests per uplink.
	requestFailures = prometheus.UplinkNamespace.NewLabeledCounter("request_failures", "The number of failed requests against the upstream registry", "uplink")
	// breakerTrips counts circuit breaker openings per uplink.
	breakerTrips = prometheus.UplinkNamespace.NewLabeledCounter("breaker_trips", "The number of times the uplink circuit breaker opened", "uplink")
	// fetchedBytes is the size of total tarball bytes pulled from upstreams.
	fetchedBytes = prometheus.UplinkNamespace.NewLabeledCounter("fetched_bytes", "The size of total tarball bytes pulled from the upstream registry", "uplink")
)

func init() {
	metrics.Register(prometheus.UplinkNamespace)
}
