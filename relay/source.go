package relay

import (
	"context"
	"fmt"

	"github.com/ShanRaboy11/unitap/app"
	"github.com/ShanRaboy11/unitap/pkg/logger"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
)

const subscriberName = "unitap-relay"

// CometSource adapts the node's event bus into the relay's two input
// streams, and doubles as the relay's best-effort block fetcher. It is the
// contract-listener/block-listener registration of the invocation interface.
type CometSource struct {
	rpc    *cmtrpc.Local
	events chan DomainEvent
	blocks chan BlockCommit
}

func NewCometSource(rpc *cmtrpc.Local) *CometSource {
	return &CometSource{
		rpc:    rpc,
		events: make(chan DomainEvent, 256),
		blocks: make(chan BlockCommit, 64),
	}
}

// Start subscribes to committed transactions and new blocks. Both channels
// close when ctx is cancelled.
func (s *CometSource) Start(ctx context.Context) (<-chan DomainEvent, <-chan BlockCommit, error) {
	txCh, err := s.rpc.Subscribe(ctx, subscriberName, "tm.event='Tx'", 128)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to tx events: %w", err)
	}
	blockCh, err := s.rpc.Subscribe(ctx, subscriberName+"-blocks", "tm.event='NewBlock'", 32)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to block events: %w", err)
	}

	go s.pump(ctx, txCh, blockCh)
	return s.events, s.blocks, nil
}

func (s *CometSource) pump(ctx context.Context, txCh, blockCh <-chan coretypes.ResultEvent) {
	defer close(s.events)
	defer close(s.blocks)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-txCh:
			if !ok {
				return
			}
			data, ok := msg.Data.(cmttypes.EventDataTx)
			if !ok {
				continue
			}
			for _, ev := range DomainEventsFromTxResult(data.TxResult) {
				select {
				case s.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		case msg, ok := <-blockCh:
			if !ok {
				return
			}
			data, ok := msg.Data.(cmttypes.EventDataNewBlock)
			if !ok || data.Block == nil {
				continue
			}
			bc := BlockCommit{
				Height: data.Block.Height,
				Hash:   fmt.Sprintf("%X", data.BlockID.Hash),
			}
			for _, tx := range data.Block.Data.Txs {
				bc.TxIDs = append(bc.TxIDs, fmt.Sprintf("%X", tx.Hash()))
			}
			select {
			case s.blocks <- bc:
			case <-ctx.Done():
				return
			}
		}
	}
}

// DomainEventsFromTxResult extracts the domain events a committed
// transaction emitted.
func DomainEventsFromTxResult(res abcitypes.TxResult) []DomainEvent {
	var out []DomainEvent
	txID := fmt.Sprintf("%X", cmttypes.Tx(res.Tx).Hash())

	for _, ev := range res.Result.Events {
		if ev.Type != app.EventType {
			continue
		}
		de := DomainEvent{TxID: txID, Height: res.Height}
		for _, attr := range ev.Attributes {
			switch attr.Key {
			case "name":
				de.Name = attr.Value
			case "payload":
				de.Payload = []byte(attr.Value)
			case "tx_id":
				de.TxID = attr.Value
			}
		}
		if de.Name == "" {
			logger.Warn("dropping event without a name", "tx_id", de.TxID)
			continue
		}
		out = append(out, de)
	}
	return out
}

// BlockRefByHeight implements BlockFetcher over the node's RPC client.
func (s *CometSource) BlockRefByHeight(ctx context.Context, height int64) (*BlockRef, error) {
	res, err := s.rpc.Block(ctx, &height)
	if err != nil {
		return nil, err
	}
	if res.Block == nil {
		return nil, fmt.Errorf("block %d not found", height)
	}
	return &BlockRef{
		Number: res.Block.Height,
		Hash:   fmt.Sprintf("%X", res.BlockID.Hash),
	}, nil
}
