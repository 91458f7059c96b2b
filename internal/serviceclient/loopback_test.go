package serviceclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteLoopbackRewritesLoopbackHost(t *testing.T) {
	out, err := RewriteLoopback("http://127.0.0.1:8080/path", "step-runner.internal", false)
	require.NoError(t, err)
	assert.Equal(t, "http://step-runner.internal:8080/path", out)
}

func TestRewriteLoopbackRewritesLocalhostLiteral(t *testing.T) {
	out, err := RewriteLoopback("http://localhost/path", "step-runner.internal", false)
	require.NoError(t, err)
	assert.Equal(t, "http://step-runner.internal/path", out)
}

func TestRewriteLoopbackLeavesNonLoopbackUntouched(t *testing.T) {
	out, err := RewriteLoopback("http://service.internal:9000/path", "step-runner.internal", false)
	require.NoError(t, err)
	assert.Equal(t, "http://service.internal:9000/path", out)
}

func TestRewriteLoopbackNoopWhenDisabled(t *testing.T) {
	out, err := RewriteLoopback("http://127.0.0.1:8080/path", "step-runner.internal", true)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/path", out)
}

func TestRewriteLoopbackNoopWithoutHostOverride(t *testing.T) {
	out, err := RewriteLoopback("http://127.0.0.1:8080/path", "", false)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/path", out)
}
