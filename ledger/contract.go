package ledger

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Key prefixes partition the shared keyspace of the state log.
const (
	txKeyPrefix = "tx-"
	qrKeyPrefix = "qr-"

	defaultPurgeLimit = 100

	defaultCurrencyCode    = "PHP"
	defaultTransactionType = "withdraw"

	// StatusVerified is the terminal status of every committed transaction.
	StatusVerified = "verified"
)

// Domain event names emitted by mutating operations.
const (
	EventTransactionCreated = "TransactionCreated"
	EventQrTokenCreated     = "QrTokenCreated"
	EventQrTokenVerified    = "QrTokenVerified"
	EventQrTokensPurged     = "QrTokensPurged"
)

// TxContext carries everything a state transition may depend on. TxID and
// Timestamp come from the ledger, never from the submitting client, so
// re-execution by independent validators is deterministic.
type TxContext struct {
	Store     StateStore
	TxID      string
	Timestamp time.Time
}

// Invocation is the wire envelope of a submitted transaction. All arguments
// travel as strings; the state machine coerces types itself.
type Invocation struct {
	Fn   string   `json:"fn"`
	Args []string `json:"args"`
}

var mutatingFns = map[string]bool{
	"createTransaction":    true,
	"createQrToken":        true,
	"verifyQrToken":        true,
	"purgeExpiredQrTokens": true,
}

// IsKnownFn reports whether fn names a submittable operation.
func IsKnownFn(fn string) bool {
	return mutatingFns[fn]
}

// Invoke dispatches a mutating operation. On success it returns the
// marshaled post-mutation record and exactly one domain event carrying it.
func Invoke(tc *TxContext, fn string, args []string) ([]byte, *Event, error) {
	switch fn {
	case "createTransaction":
		return createTransaction(tc, args)
	case "createQrToken":
		return createQrToken(tc, args)
	case "verifyQrToken":
		return verifyQrToken(tc, args)
	case "purgeExpiredQrTokens":
		return purgeExpiredQrTokens(tc, args)
	default:
		return nil, nil, errf(KindValidation, "unknown function: %s", fn)
	}
}

// arg returns the i-th positional argument or "" when absent.
func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func ensureArg(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return errf(KindValidation, "missing or empty argument: %s", name)
	}
	return nil
}

// safeFloat coerces numeric input. Unparsable or absent values become 0.0
// instead of failing the write path; negative input passes through unchanged.
func safeFloat(value string) float64 {
	if strings.TrimSpace(value) == "" {
		return 0.0
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0.0
	}
	return n
}

func tsISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// parseExpiry parses a stored expiresAt value. A blank or unparsable value
// means the token never expires, matching how the ledger has always treated
// malformed expiry strings.
func parseExpiry(value string) (time.Time, bool) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func exists(store StateStore, key string) (bool, error) {
	_, err := store.Get(key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// createTransaction writes a canonical transaction record.
// Args: txId?, userId, recipientId?, amount, currencyCode?, feeAmount?, type, description?, ecoPoints?
func createTransaction(tc *TxContext, args []string) ([]byte, *Event, error) {
	txID := arg(args, 0)
	userID := arg(args, 1)
	recipientID := arg(args, 2)
	amount := arg(args, 3)
	currencyCode := arg(args, 4)
	feeAmount := arg(args, 5)
	txType := arg(args, 6)
	description := arg(args, 7)
	ecoPoints := arg(args, 8)

	if err := ensureArg("userId", userID); err != nil {
		return nil, nil, err
	}
	if err := ensureArg("amount", amount); err != nil {
		return nil, nil, err
	}
	if err := ensureArg("type", txType); err != nil {
		return nil, nil, err
	}

	// Fall back to the ledger's own transaction identifier.
	finalTxID := strings.TrimSpace(txID)
	if finalTxID == "" {
		finalTxID = tc.TxID
	}
	key := txKeyPrefix + finalTxID

	occupied, err := exists(tc.Store, key)
	if err != nil {
		return nil, nil, err
	}
	if occupied {
		return nil, nil, errf(KindAlreadyExists, "transaction %s already exists", finalTxID)
	}

	entry := Transaction{
		ID:              finalTxID,
		UserID:          userID,
		Amount:          safeFloat(amount),
		CurrencyCode:    currencyCode,
		FeeAmount:       safeFloat(feeAmount),
		Type:            txType,
		Status:          StatusVerified,
		Description:     description,
		EcoPointsEarned: safeFloat(ecoPoints),
		LedgerTimestamp: tsISO(tc.Timestamp),
	}
	if recipientID != "" {
		entry.RecipientID = &recipientID
	}
	if entry.CurrencyCode == "" {
		entry.CurrencyCode = defaultCurrencyCode
	}

	raw, err := json.Marshal(&entry)
	if err != nil {
		return nil, nil, err
	}
	if err := tc.Store.Set(key, raw); err != nil {
		return nil, nil, err
	}

	return raw, &Event{Name: EventTransactionCreated, Payload: raw}, nil
}

// createQrToken mints a single-use token keyed by its signature.
// Args: tokenSignature, userId, transactionType?, amountLocked?, expiresAtIso?
func createQrToken(tc *TxContext, args []string) ([]byte, *Event, error) {
	tokenSignature := arg(args, 0)
	userID := arg(args, 1)
	transactionType := arg(args, 2)
	amountLocked := arg(args, 3)
	expiresAt := arg(args, 4)

	if err := ensureArg("tokenSignature", tokenSignature); err != nil {
		return nil, nil, err
	}
	if err := ensureArg("userId", userID); err != nil {
		return nil, nil, err
	}

	key := qrKeyPrefix + tokenSignature
	occupied, err := exists(tc.Store, key)
	if err != nil {
		return nil, nil, err
	}
	if occupied {
		return nil, nil, errf(KindAlreadyExists, "QR token %s already exists", tokenSignature)
	}

	if transactionType == "" {
		transactionType = defaultTransactionType
	}
	token := QrToken{
		ID:              tokenSignature,
		UserID:          userID,
		TokenSignature:  tokenSignature,
		TransactionType: transactionType,
		AmountLocked:    safeFloat(amountLocked),
		IsScanned:       false,
		ExpiresAt:       expiresAt,
		CreatedAt:       tsISO(tc.Timestamp),
	}

	raw, err := json.Marshal(&token)
	if err != nil {
		return nil, nil, err
	}
	if err := tc.Store.Set(key, raw); err != nil {
		return nil, nil, err
	}

	return raw, &Event{Name: EventQrTokenCreated, Payload: raw}, nil
}

// verifyQrToken consumes a token. The scanned-once check precedes the expiry
// check, so a consumed token always fails as consumed regardless of expiry.
// Args: tokenSignature, scannerId?
func verifyQrToken(tc *TxContext, args []string) ([]byte, *Event, error) {
	tokenSignature := arg(args, 0)
	scannerID := arg(args, 1)

	key := qrKeyPrefix + tokenSignature
	raw, err := tc.Store.Get(key)
	if err == ErrKeyNotFound {
		return nil, nil, errf(KindNotFound, "QR token %s not found", tokenSignature)
	}
	if err != nil {
		return nil, nil, err
	}

	var token QrToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, nil, err
	}

	if token.IsScanned {
		return nil, nil, errf(KindAlreadyConsumed, "QR token %s has already been scanned", tokenSignature)
	}
	if expiry, ok := parseExpiry(token.ExpiresAt); ok && expiry.Before(tc.Timestamp) {
		return nil, nil, errf(KindExpired, "QR token %s has expired", tokenSignature)
	}

	token.IsScanned = true
	if scannerID != "" {
		token.ScannedBy = &scannerID
	}
	scannedAt := tsISO(tc.Timestamp)
	token.ScannedAt = &scannedAt

	updated, err := json.Marshal(&token)
	if err != nil {
		return nil, nil, err
	}
	if err := tc.Store.Set(key, updated); err != nil {
		return nil, nil, err
	}

	return updated, &Event{Name: EventQrTokenVerified, Payload: updated}, nil
}

// purgeExpiredQrTokens deletes tokens whose expiry precedes the ledger's
// transaction time, up to limit per call. Args: limit?
func purgeExpiredQrTokens(tc *TxContext, args []string) ([]byte, *Event, error) {
	max := defaultPurgeLimit
	if limitArg := strings.TrimSpace(arg(args, 0)); limitArg != "" {
		if n, err := strconv.Atoi(limitArg); err == nil && n > 0 {
			max = n
		}
	}

	purged := []string{}
	var keys []string
	err := tc.Store.Scan(qrKeyPrefix, func(key string, value []byte) (bool, error) {
		var token QrToken
		if err := json.Unmarshal(value, &token); err != nil {
			return false, nil
		}
		if expiry, ok := parseExpiry(token.ExpiresAt); ok && expiry.Before(tc.Timestamp) {
			id := token.ID
			if id == "" {
				id = key
			}
			purged = append(purged, id)
			keys = append(keys, key)
			if len(purged) >= max {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Deletions happen after the scan so the iterator never observes its own
	// writes.
	for _, key := range keys {
		if err := tc.Store.Delete(key); err != nil {
			return nil, nil, err
		}
	}

	raw, err := json.Marshal(purged)
	if err != nil {
		return nil, nil, err
	}
	return raw, &Event{Name: EventQrTokensPurged, Payload: raw}, nil
}

// Read-side operations, served through the query path.

// GetQrToken reads a token without consuming it.
func GetQrToken(store StateStore, tokenSignature string) ([]byte, error) {
	raw, err := store.Get(qrKeyPrefix + tokenSignature)
	if err == ErrKeyNotFound {
		return nil, errf(KindNotFound, "QR token %s not found", tokenSignature)
	}
	return raw, err
}

// QueryTransaction reads a transaction record by id.
func QueryTransaction(store StateStore, txID string) ([]byte, error) {
	raw, err := store.Get(txKeyPrefix + txID)
	if err == ErrKeyNotFound {
		return nil, errf(KindNotFound, "transaction %s does not exist", txID)
	}
	return raw, err
}

// TransactionsByUser range-scans the transaction keyspace and keeps records
// where the user is sender or recipient, in key order.
func TransactionsByUser(store StateStore, userID string) ([]byte, error) {
	if err := ensureArg("userId", userID); err != nil {
		return nil, err
	}

	results := []Transaction{}
	err := store.Scan(txKeyPrefix, func(key string, value []byte) (bool, error) {
		var record Transaction
		if err := json.Unmarshal(value, &record); err != nil {
			return false, nil
		}
		if record.UserID == userID || (record.RecipientID != nil && *record.RecipientID == userID) {
			results = append(results, record)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(results)
}
