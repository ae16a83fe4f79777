package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func routeFor(t *testing.T, path string) Route {
	t.Helper()
	for _, r := range Table {
		if r.Path == path {
			return r
		}
	}
	t.Fatalf("no route registered for %s", path)
	return Route{}
}

func TestEffectiveMode_UnaryRouteIgnoresStreamField(t *testing.T) {
	r := routeFor(t, "/v1/embeddings")
	assert.Equal(t, ModeUnary, r.EffectiveMode([]byte(`{"stream":true}`)))
}

func TestEffectiveMode_StreamCapableRouteHonorsStreamTrue(t *testing.T) {
	r := routeFor(t, "/v1/chat/completions")
	assert.Equal(t, ModeStreamCapable, r.EffectiveMode([]byte(`{"stream":true}`)))
}

func TestEffectiveMode_StreamCapableRouteDefaultsToUnaryWhenFieldAbsent(t *testing.T) {
	r := routeFor(t, "/v1/chat/completions")
	assert.Equal(t, ModeUnary, r.EffectiveMode([]byte(`{"messages":[]}`)))
}

func TestEffectiveMode_StreamCapableRouteDefaultsToUnaryOnMalformedBody(t *testing.T) {
	r := routeFor(t, "/v1/chat/completions")
	assert.Equal(t, ModeUnary, r.EffectiveMode([]byte(`not json`)))
}

func TestTable_HealthRouteHasNoPoolOrUpstreamPath(t *testing.T) {
	r := routeFor(t, "/health")
	assert.Equal(t, ModeHealth, r.Mode)
	assert.Equal(t, "", r.Pool)
}

func TestTable_Text2SQLTranslatesToChatCompletionsUpstream(t *testing.T) {
	r := routeFor(t, "/v1/text2sql")
	assert.Equal(t, "text2sql", r.Pool)
	assert.Equal(t, "/v1/chat/completions", r.UpstreamPath)
}

func TestWithOverrides_ReplacesUpstreamPathOfMatchingRoute(t *testing.T) {
	out := WithOverrides(Table, map[string]string{
		"/v1/embeddings": "/v2/embeddings",
	})

	for _, r := range out {
		if r.Path == "/v1/embeddings" {
			assert.Equal(t, "/v2/embeddings", r.UpstreamPath)
		}
	}
	assert.Equal(t, len(Table), len(out))
}

func TestWithOverrides_LeavesUnmatchedRoutesUntouched(t *testing.T) {
	out := WithOverrides(Table, map[string]string{
		"/v1/embeddings": "/v2/embeddings",
	})

	for i, r := range out {
		if r.Path != "/v1/embeddings" {
			assert.Equal(t, Table[i].UpstreamPath, r.UpstreamPath)
		}
	}
}

func TestWithOverrides_EmptyOverridesReturnsTableUnchanged(t *testing.T) {
	out := WithOverrides(Table, nil)
	assert.Equal(t, Table, out)
}

func TestWithOverrides_IgnoresEmptyUpstreamPathOverride(t *testing.T) {
	out := WithOverrides(Table, map[string]string{"/v1/embeddings": ""})
	for _, r := range out {
		if r.Path == "/v1/embeddings" {
			assert.Equal(t, "/v1/embeddings", r.UpstreamPath)
		}
	}
}

func TestWithOverrides_DoesNotMutateTheSourceTable(t *testing.T) {
	original := append([]Route(nil), Table...)
	_ = WithOverrides(Table, map[string]string{"/v1/embeddings": "/v2/embeddings"})
	assert.Equal(t, original, Table)
}
