// Package gateway exposes the ledger invocation interface: submit for
// mutating operations, evaluate for read-only ones. All arguments travel as
// strings; the state machine performs its own type coercion.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ShanRaboy11/unitap/ledger"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	cmttypes "github.com/cometbft/cometbft/types"
)

// Gateway submits and evaluates ledger invocations over the node's
// in-process RPC client. Constructed once at startup and shared by every
// handler; torn down with the node.
type Gateway struct {
	rpc    *cmtrpc.Local
	logger cmtlog.Logger
}

func New(rpc *cmtrpc.Local, logger cmtlog.Logger) *Gateway {
	return &Gateway{rpc: rpc, logger: logger}
}

// SubmitTransaction broadcasts a mutating invocation and waits for it to be
// committed in a block. Deterministic ledger failures come back as
// *ledger.Error; anything else is a transport failure.
func (g *Gateway) SubmitTransaction(ctx context.Context, fn string, args ...string) ([]byte, error) {
	if args == nil {
		args = []string{}
	}
	payload, err := json.Marshal(&ledger.Invocation{Fn: fn, Args: args})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize invocation: %w", err)
	}

	res, err := g.rpc.BroadcastTxCommit(ctx, cmttypes.Tx(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to commit to ledger: %w", err)
	}
	if res.CheckTx.Code != 0 {
		return nil, ledger.FromCode(res.CheckTx.Code, res.CheckTx.Log)
	}
	if res.TxResult.Code != 0 {
		return nil, ledger.FromCode(res.TxResult.Code, res.TxResult.Log)
	}

	g.logger.Info("Tx committed", "fn", fn, "hash", res.Hash.String(), "height", res.Height)
	return res.TxResult.Data, nil
}

// EvaluateTransaction runs a read-only query against committed state.
// Paths: tx/<id>, qr/<signature>, user/<id>/transactions.
func (g *Gateway) EvaluateTransaction(ctx context.Context, path string) ([]byte, error) {
	res, err := g.rpc.ABCIQuery(ctx, "", cmtbytes.HexBytes(path))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	if res.Response.Code != 0 {
		return nil, ledger.FromCode(res.Response.Code, res.Response.Log)
	}
	return res.Response.Value, nil
}
