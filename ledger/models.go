package ledger

// QrToken is a single-use authorization to perform one transaction at a
// terminal. Field names follow the on-ledger JSON records.
type QrToken struct {
	ID              string  `json:"id"`
	UserID          string  `json:"userId"`
	TokenSignature  string  `json:"tokenSignature"`
	TransactionType string  `json:"transactionType"`
	AmountLocked    float64 `json:"amountLocked"`
	IsScanned       bool    `json:"isScanned"`
	ExpiresAt       string  `json:"expiresAt"`
	CreatedAt       string  `json:"createdAt"`
	ScannedBy       *string `json:"scannedBy,omitempty"`
	ScannedAt       *string `json:"scannedAt,omitempty"`
}

// Transaction is an immutable financial ledger entry. Once written under its
// key it is never overwritten.
type Transaction struct {
	ID              string  `json:"id"`
	UserID          string  `json:"userId"`
	RecipientID     *string `json:"recipientId"`
	Amount          float64 `json:"amount"`
	CurrencyCode    string  `json:"currencyCode"`
	FeeAmount       float64 `json:"feeAmount"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	Description     string  `json:"description"`
	EcoPointsEarned float64 `json:"ecoPointsEarned"`
	LedgerTimestamp string  `json:"ledgerTimestamp"`
}

// Event accompanies every committed mutation. It is not persisted on-chain;
// it rides the transaction result out to off-chain listeners.
type Event struct {
	Name    string
	Payload []byte
}
