package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "block_id": {"hash": "A1B2C3"},
  "block": {
    "header": {"height": "12345", "time": "2026-01-02T03:04:05Z"},
    "data": {"txs": ["tx-one", "tx-two"]}
  }
}`

func TestParse(t *testing.T) {
	t.Parallel()

	b, err := Parse([]byte(samplePayload))
	require.NoError(t, err)
	require.Equal(t, int64(12345), b.Height)
	require.Equal(t, "A1B2C3", b.Hash)
	require.Equal(t, "2026-01-02T03:04:05Z", b.Timestamp)
	require.Equal(t, []string{"tx-one", "tx-two"}, b.TxHashes)
	require.JSONEq(t, samplePayload, string(b.Raw))
}

func TestParseEmptyTxsAllowed(t *testing.T) {
	t.Parallel()

	raw := `{"block_id":{"hash":"h"},"block":{"header":{"height":"7","time":"t"},"data":{}}}`
	b, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.Empty(t, b.TxHashes)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing height", `{"block_id":{"hash":"h"},"block":{"header":{"time":"t"}}}`},
		{"non numeric height", `{"block_id":{"hash":"h"},"block":{"header":{"height":"abc","time":"t"}}}`},
		{"missing hash", `{"block":{"header":{"height":"7","time":"t"}}}`},
		{"missing timestamp", `{"block_id":{"hash":"h"},"block":{"header":{"height":"7"}}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Block{Height: 1, Hash: "h", Timestamp: "t"}
	require.NoError(t, valid.Validate())

	require.Error(t, Block{Hash: "h", Timestamp: "t"}.Validate())
	require.Error(t, Block{Height: 1, Timestamp: "t"}.Validate())
	require.Error(t, Block{Height: 1, Hash: "h"}.Validate())
}
