package relay

import (
	"fmt"
	"testing"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainEventsFromTxResult(t *testing.T) {
	txBytes := []byte(`{"fn":"createQrToken","args":["sig-1","u1"]}`)
	hash := fmt.Sprintf("%X", cmttypes.Tx(txBytes).Hash())

	t.Run("extracts name, payload and tx_id", func(t *testing.T) {
		res := abcitypes.TxResult{
			Height: 42,
			Tx:     txBytes,
			Result: abcitypes.ExecTxResult{
				Events: []abcitypes.Event{{
					Type: "unitap",
					Attributes: []abcitypes.EventAttribute{
						{Key: "name", Value: "QrTokenCreated"},
						{Key: "payload", Value: `{"tokenSignature":"sig-1"}`},
						{Key: "tx_id", Value: hash},
					},
				}},
			},
		}

		events := DomainEventsFromTxResult(res)
		require.Len(t, events, 1)
		assert.Equal(t, "QrTokenCreated", events[0].Name)
		assert.JSONEq(t, `{"tokenSignature":"sig-1"}`, string(events[0].Payload))
		assert.Equal(t, hash, events[0].TxID)
		assert.Equal(t, int64(42), events[0].Height)
	})

	t.Run("falls back to the tx hash when no tx_id attribute", func(t *testing.T) {
		res := abcitypes.TxResult{
			Height: 1,
			Tx:     txBytes,
			Result: abcitypes.ExecTxResult{
				Events: []abcitypes.Event{{
					Type: "unitap",
					Attributes: []abcitypes.EventAttribute{
						{Key: "name", Value: "QrTokenCreated"},
					},
				}},
			},
		}

		events := DomainEventsFromTxResult(res)
		require.Len(t, events, 1)
		assert.Equal(t, hash, events[0].TxID)
	})

	t.Run("ignores foreign event types and unnamed events", func(t *testing.T) {
		res := abcitypes.TxResult{
			Tx: txBytes,
			Result: abcitypes.ExecTxResult{
				Events: []abcitypes.Event{
					{Type: "tm.event.Vote"},
					{Type: "unitap", Attributes: []abcitypes.EventAttribute{
						{Key: "payload", Value: "{}"},
					}},
				},
			},
		}

		assert.Empty(t, DomainEventsFromTxResult(res))
	})

	t.Run("failed tx carries no events", func(t *testing.T) {
		res := abcitypes.TxResult{
			Tx:     txBytes,
			Result: abcitypes.ExecTxResult{Code: 2},
		}
		assert.Empty(t, DomainEventsFromTxResult(res))
	})
}
