package app

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShanRaboy11/unitap/ledger"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/dgraph-io/badger/v4"
)

// EventType is the ABCI event type under which domain events are emitted.
// Attributes: name (domain event name), payload (post-mutation record),
// tx_id (ledger transaction identifier).
const EventType = "unitap"

// Evaluate query paths served by the ABCI Query method.
const (
	QueryTxPrefix   = "tx/"
	QueryQrPrefix   = "qr/"
	QueryUserPrefix = "user/"
)

// Application implements the ABCI interface for the nodes
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	nodeID       string
	mu           sync.Mutex
	config       *AppConfig
	logger       cmtlog.Logger
}

// AppConfig contains configuration for the application
type AppConfig struct {
	LogAllTxs bool // Whether to log all transactions, even failed ones
}

// NewABCIApplication creates a new application
func NewABCIApplication(badgerDB *badger.DB, config *AppConfig, logger cmtlog.Logger) *Application {
	return &Application{
		badgerDB: badgerDB,
		nodeID:   "",
		config:   config,
		logger:   logger,
	}
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	lastBlockHeight := int64(0)
	var lastBlockAppHash []byte

	// Get last block info from DB
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("last_block_height"))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		err = item.Value(func(val []byte) error {
			lastBlockHeight = bytesToInt64(val)
			return nil
		})
		if err != nil {
			return err
		}

		item, err = txn.Get([]byte("last_block_app_hash"))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err == nil {
			err = item.Value(func(val []byte) error {
				lastBlockAppHash = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method. It serves the read-only evaluate
// paths: tx/<id>, qr/<signature>, user/<id>/transactions.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	if len(req.Data) == 0 {
		return &abcitypes.QueryResponse{
			Code: uint32(ledger.KindValidation),
			Log:  "Empty query data",
		}, nil
	}

	resp := abcitypes.QueryResponse{Key: req.Data}
	path := string(req.Data)

	dbErr := app.badgerDB.View(func(txn *badger.Txn) error {
		store := ledger.NewTxnStore(txn)

		var value []byte
		var err error
		switch {
		case strings.HasPrefix(path, QueryTxPrefix):
			value, err = ledger.QueryTransaction(store, strings.TrimPrefix(path, QueryTxPrefix))
		case strings.HasPrefix(path, QueryQrPrefix):
			value, err = ledger.GetQrToken(store, strings.TrimPrefix(path, QueryQrPrefix))
		case strings.HasPrefix(path, QueryUserPrefix) && strings.HasSuffix(path, "/transactions"):
			userID := strings.TrimSuffix(strings.TrimPrefix(path, QueryUserPrefix), "/transactions")
			value, err = ledger.TransactionsByUser(store, userID)
		default:
			resp.Code = uint32(ledger.KindValidation)
			resp.Log = fmt.Sprintf("unsupported query path: %s", path)
			return nil
		}

		if err != nil {
			if kind := ledger.KindOf(err); kind != 0 {
				resp.Code = uint32(kind)
				resp.Log = err.Error()
				return nil
			}
			return err
		}

		resp.Value = value
		resp.Log = "exists"
		return nil
	})

	if dbErr != nil {
		app.logger.Error("Error reading database, unable to execute query", "err", dbErr)
		return &abcitypes.QueryResponse{
			Code: uint32(ledger.KindInternal),
			Log:  fmt.Sprintf("Database error: %v", dbErr),
		}, nil
	}

	return &resp, nil
}

// CheckTx implements the ABCI CheckTx method
func (app *Application) CheckTx(
	_ context.Context,
	check *abcitypes.CheckTxRequest,
) (*abcitypes.CheckTxResponse, error) {
	var inv ledger.Invocation
	if err := json.Unmarshal(check.Tx, &inv); err != nil {
		return &abcitypes.CheckTxResponse{
				Code: uint32(ledger.KindValidation),
				Log:  "Invalid transaction format",
			},
			fmt.Errorf("fail to parse tx on CheckTx: %s", err.Error())
	}
	if !ledger.IsKnownFn(inv.Fn) {
		return &abcitypes.CheckTxResponse{
			Code: uint32(ledger.KindValidation),
			Log:  fmt.Sprintf("unknown function: %s", inv.Fn),
		}, nil
	}

	return &abcitypes.CheckTxResponse{
		Code: 0,
	}, nil
}

// InitChain implements the ABCI InitChain method
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	// Include all transactions
	return &abcitypes.PrepareProposalResponse{Txs: proposal.Txs}, nil
}

// ProcessProposal implements the ABCI ProcessProposal method
func (app *Application) ProcessProposal(
	_ context.Context,
	proposal *abcitypes.ProcessProposalRequest,
) (*abcitypes.ProcessProposalResponse, error) {
	// Execution is deterministic: every validator replays the same
	// invocations against the same state in FinalizeBlock, so proposals only
	// need to be well-formed here.
	for _, txBytes := range proposal.Txs {
		var inv ledger.Invocation
		if err := json.Unmarshal(txBytes, &inv); err != nil {
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{
		Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method. Every transaction
// in the block is executed through the state machine with the block's agreed
// time, inside one Badger transaction committed by Commit.
func (app *Application) FinalizeBlock(
	_ context.Context,
	req *abcitypes.FinalizeBlockRequest,
) (*abcitypes.FinalizeBlockResponse, error) {
	var txResults = make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	store := ledger.NewTxnStore(app.onGoingBlock)

	for i, txBytes := range req.Txs {
		var inv ledger.Invocation
		if err := json.Unmarshal(txBytes, &inv); err != nil {
			txResults[i] = &abcitypes.ExecTxResult{
				Code: uint32(ledger.KindValidation),
				Log:  "Invalid transaction format",
			}
			continue
		}

		txID := fmt.Sprintf("%X", cmttypes.Tx(txBytes).Hash())
		tc := &ledger.TxContext{
			Store:     store,
			TxID:      txID,
			Timestamp: req.Time,
		}

		result, event, err := ledger.Invoke(tc, inv.Fn, inv.Args)
		if err != nil {
			if app.config.LogAllTxs {
				app.logger.Info("Tx rejected", "fn", inv.Fn, "tx_id", txID, "reason", err.Error())
			}
			txResults[i] = &abcitypes.ExecTxResult{
				Code: ledger.ABCICode(err),
				Log:  err.Error(),
			}
			continue
		}

		txResults[i] = &abcitypes.ExecTxResult{
			Code:   0,
			Data:   result,
			Log:    "ok",
			Events: domainEvents(event, txID),
		}
	}

	// store the last block info
	blockHeight := req.Height
	appHash := calculateAppHash(txResults)

	err := app.onGoingBlock.Set([]byte("last_block_height"), int64ToBytes(blockHeight))
	if err != nil {
		app.logger.Error("Error storing block height", "err", err)
	}

	err = app.onGoingBlock.Set([]byte("last_block_app_hash"), appHash)
	if err != nil {
		app.logger.Error("Error storing app hash", "err", err)
	}

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, err
}

// Commit implements the ABCI Commit method
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	err := app.onGoingBlock.Commit()
	if err != nil {
		app.logger.Error("Error committing block", "err", err)
	}

	return &abcitypes.CommitResponse{}, nil
}

// ListSnapshots implements the ABCI ListSnapshots method
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

// OfferSnapshot implements the ABCI OfferSnapshot method
func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

// LoadSnapshotChunk implements the ABCI LoadSnapshotChunk method
func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

// ApplySnapshotChunk implements the ABCI ApplySnapshotChunk method
func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

// ExtendVote implements the ABCI ExtendVote method
func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

// VerifyVoteExtension implements the ABCI VerifyVoteExtension method
func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

// Helper Functions

// domainEvents converts a contract event into the ABCI event carried by the
// transaction result.
func domainEvents(event *ledger.Event, txID string) []abcitypes.Event {
	if event == nil {
		return nil
	}
	return []abcitypes.Event{
		{
			Type: EventType,
			Attributes: []abcitypes.EventAttribute{
				{Key: "name", Value: event.Name, Index: true},
				{Key: "payload", Value: string(event.Payload), Index: false},
				{Key: "tx_id", Value: txID, Index: true},
			},
		},
	}
}

// calculateAppHash calculates the application hash for the current block
func calculateAppHash(txResults []*abcitypes.ExecTxResult) []byte {
	allData := make([]byte, 0)

	for _, result := range txResults {
		allData = append(allData, result.Data...)
	}

	hash := sha256.Sum256(allData)
	return hash[:]
}

// int64ToBytes converts an int64 to bytes
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)

	buf[0] = byte(i >> 56)
	buf[1] = byte(i >> 48)
	buf[2] = byte(i >> 40)
	buf[3] = byte(i >> 32)
	buf[4] = byte(i >> 24)
	buf[5] = byte(i >> 16)
	buf[6] = byte(i >> 8)
	buf[7] = byte(i)

	return buf
}

// bytesToInt64 converts bytes to an int64
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}

	return int64(buf[0])<<56 |
		int64(buf[1])<<48 |
		int64(buf[2])<<40 |
		int64(buf[3])<<32 |
		int64(buf[4])<<24 |
		int64(buf[5])<<16 |
		int64(buf[6])<<8 |
		int64(buf[7])
}
