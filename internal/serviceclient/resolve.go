package serviceclient

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is everything known about where a service step's target service
// might be reached, gathered from whatever sources a deployment has: the
// workflow runner's own container network, a service-registry instance
// record, a self-reported advertised URL from the service's last heartbeat,
// a static host/port pair, and a last-resort fallback base URL.
type Endpoint struct {
	// ContainerBaseURL is the service-mesh/compose-network DNS name a step
	// running in the same network can reach directly, e.g.
	// "http://orders-svc:8080".
	ContainerBaseURL string
	// InstanceBaseURL is a specific instance's base URL from the service
	// registry (picked by whatever load-balancing the registry does).
	InstanceBaseURL string
	// AdvertisedBaseURL is the base URL the service itself reported at
	// registration/heartbeat time — may differ from InstanceBaseURL when
	// the service is behind NAT or a reverse proxy it knows its own public
	// address for.
	AdvertisedBaseURL string
	// Host and Port build a plain "http://host:port" candidate when no
	// richer source is available.
	Host string
	Port int
	// FallbackBaseURL is a statically configured base URL used only when
	// every other source is empty.
	FallbackBaseURL string
}

// ResolveBaseURL builds the ordered candidate base-URL list per spec.md's
// service-step resolution algorithm: container → instance → advertised →
// host+port → fallback. Empty sources are skipped; the caller (Client.Call)
// tries each returned candidate in order until one responds.
func ResolveBaseURL(e Endpoint) []string {
	var out []string
	add := func(v string) {
		if v != "" {
			out = append(out, v)
		}
	}
	add(e.ContainerBaseURL)
	add(e.InstanceBaseURL)
	add(e.AdvertisedBaseURL)
	if e.Host != "" && e.Port > 0 {
		out = append(out, fmt.Sprintf("http://%s", net.JoinHostPort(e.Host, strconv.Itoa(e.Port))))
	}
	add(e.FallbackBaseURL)
	return out
}

// EndpointRegistry is a Registry backed by a fixed map of per-service
// Endpoint descriptions, resolving each lookup through ResolveBaseURL. This
// is the registry a real deployment wires in; StaticRegistry remains for
// tests and deployments that already have a flat candidate list.
type EndpointRegistry map[string]Endpoint

func (r EndpointRegistry) Candidates(serviceName string) []string {
	return ResolveBaseURL(r[serviceName])
}
