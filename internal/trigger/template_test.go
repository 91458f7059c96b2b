package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplateBasic(t *testing.T) {
	doc := []byte(`{"dataset":"orders","shard":{"hour":"2026-07-31T10"}}`)
	out, err := RenderTemplate(`{"dataset":"{{dataset}}","shard":"{{shard.hour}}"}`, doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataset":"orders","shard":"2026-07-31T10"}`, out)
}

func TestRenderTemplateFilters(t *testing.T) {
	doc := []byte(`{"name":"  Orders  "}`)
	out, err := RenderTemplate(`{{name|trim|upper}}`, doc)
	require.NoError(t, err)
	assert.Equal(t, "ORDERS", out)
}

func TestRenderTemplateDefaultFilter(t *testing.T) {
	doc := []byte(`{}`)
	out, err := RenderTemplate(`{{missing|default:fallback}}`, doc)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestRenderTemplateUnknownFilterErrors(t *testing.T) {
	_, err := RenderTemplate(`{{name|bogus}}`, []byte(`{"name":"x"}`))
	require.Error(t, err)
}

func TestRenderTemplateEmptyPathErrors(t *testing.T) {
	_, err := RenderTemplate(`{{ }}`, []byte(`{}`))
	require.Error(t, err)
}

func TestValidateTemplateAgainstSample(t *testing.T) {
	err := ValidateTemplateAgainstSample(`{{dataset}}`, []byte(`{"dataset":"orders"}`))
	require.NoError(t, err)
}
