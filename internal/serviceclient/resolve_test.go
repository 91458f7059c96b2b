package serviceclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveBaseURLOrdersContainerInstanceAdvertisedHostPortFallback(t *testing.T) {
	got := ResolveBaseURL(Endpoint{
		ContainerBaseURL:  "http://orders-svc:8080",
		InstanceBaseURL:   "http://10.0.1.4:8080",
		AdvertisedBaseURL: "http://orders.example.com",
		Host:              "10.0.1.4",
		Port:              8080,
		FallbackBaseURL:   "http://fallback.internal",
	})
	assert.Equal(t, []string{
		"http://orders-svc:8080",
		"http://10.0.1.4:8080",
		"http://orders.example.com",
		"http://10.0.1.4:8080",
		"http://fallback.internal",
	}, got)
}

func TestResolveBaseURLSkipsEmptySources(t *testing.T) {
	got := ResolveBaseURL(Endpoint{FallbackBaseURL: "http://fallback.internal"})
	assert.Equal(t, []string{"http://fallback.internal"}, got)
}

func TestResolveBaseURLSkipsHostPortWhenPortMissing(t *testing.T) {
	got := ResolveBaseURL(Endpoint{Host: "10.0.1.4"})
	assert.Empty(t, got)
}

func TestResolveBaseURLReturnsEmptyForZeroValueEndpoint(t *testing.T) {
	assert.Empty(t, ResolveBaseURL(Endpoint{}))
}

func TestEndpointRegistryCandidatesDelegatesToResolveBaseURL(t *testing.T) {
	reg := EndpointRegistry{
		"orders": {ContainerBaseURL: "http://orders-svc:8080", FallbackBaseURL: "http://fallback.internal"},
	}
	assert.Equal(t, []string{"http://orders-svc:8080", "http://fallback.internal"}, reg.Candidates("orders"))
	assert.Empty(t, reg.Candidates("missing"))
}
