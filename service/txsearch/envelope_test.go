package txsearch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Envelope
	}{
		{"wrapped", `{"jsonrpc":"2.0","id":-1,"result":{"txs":[],"total_count":"0"}}`, WrappedEnvelope{}},
		{"unwrapped", `{"txs":[],"total_count":"0"}`, UnwrappedEnvelope{}},
		{"rest", `{"txs":[],"tx_responses":[],"pagination":{"next_key":null,"total":"0"}}`, RESTEnvelope{}},
		{"jsonrpc error", `{"jsonrpc":"2.0","id":-1,"error":{"code":-32603,"message":"Internal error","data":"transaction indexing is disabled"}}`, ErrorEnvelope{}},
		{"gateway error", `{"code":3,"message":"parameter 'events' must not be empty","details":[]}`, ErrorEnvelope{}},
		{"unknown", `{"foo":"bar"}`, UnknownEnvelope{}},
		{"not json", `<html>bad gateway</html>`, UnknownEnvelope{}},
		{"array", `[]`, UnknownEnvelope{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.IsType(t, tt.want, Classify([]byte(tt.body)))
		})
	}
}

func TestNormalize_WrappedAndUnwrappedAreEquivalent(t *testing.T) {
	txs := `[{"hash":"H1","height":"5"},{"hash":"H2","height":"4"}]`
	wrapped, err := Normalize([]byte(`{"jsonrpc":"2.0","id":1,"result":{"txs":` + txs + `,"total_count":"2"}}`))
	require.NoError(t, err)
	unwrapped, err := Normalize([]byte(`{"txs":` + txs + `,"total_count":2}`))
	require.NoError(t, err)

	assert.Equal(t, wrapped, unwrapped)
	assert.Len(t, wrapped.Records, 2)
	assert.Equal(t, 2, wrapped.Total)
	assert.True(t, wrapped.HasTotal)
	assert.False(t, wrapped.KeyPaged)
}

func TestNormalize_REST(t *testing.T) {
	page, err := Normalize([]byte(`{"tx_responses":[{"txhash":"A"}],"pagination":{"next_key":"AAE=","total":"0"}}`))
	require.NoError(t, err)
	assert.True(t, page.KeyPaged)
	assert.Equal(t, "AAE=", page.NextKey)
	assert.False(t, page.HasTotal)
	assert.Len(t, page.Records, 1)

	last, err := Normalize([]byte(`{"tx_responses":[],"pagination":{"next_key":null}}`))
	require.NoError(t, err)
	assert.Equal(t, "", last.NextKey)
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize([]byte(`{"error":{"code":-32603,"message":"Internal error","data":"transaction indexing is disabled"}}`))
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindIndexingUnavailable, svcErr.Kind)
	assert.ErrorIs(t, err, ErrIndexingUnavailable)

	_, err = Normalize([]byte(`{"error":{"code":-32603,"message":"Internal error","data":"failed to parse query: syntax error"}}`))
	assert.ErrorIs(t, err, ErrQuerySyntax)
	assert.NotErrorIs(t, err, ErrIndexingUnavailable)

	page, err := Normalize([]byte(`{"unexpected":true}`))
	var shapeErr *EnvelopeShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Empty(t, page.Records)
}
