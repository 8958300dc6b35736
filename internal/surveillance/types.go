// internal/surveillance/types.go
package surveillance

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/solsniperx/internal/market"
)

// ErrPersistentFailure is returned by the supervisor once the reconnect
// ceiling has been exhausted.
var ErrPersistentFailure = errors.New("surveillance subscription failed persistently")

// Record is one raw activity notification: a transaction signature and the
// program log lines it produced.
type Record struct {
	Signature string
	Slot      uint64
	Logs      []string
}

type Kind string

const (
	KindNewToken Kind = "new_token"
	KindRugpull  Kind = "rugpull_alert"
)

// Event is either NewToken or RugpullAlert.
type Event interface {
	Kind() Kind
}

// NewToken reports a mint initialized on-chain that the market provider already knows.
type NewToken struct {
	Address   string
	Signature string
	Snapshot  market.Snapshot
}

func (NewToken) Kind() Kind { return KindNewToken }

// RugpullAlert reports one rugpull indicator. TokenAddress may be empty when
// the mint could not be attributed.
type RugpullAlert struct {
	TokenAddress string
	Signature    string
	Reason       string
	LogMessage   string
	Evidence     map[string]string
}

func (RugpullAlert) Kind() Kind { return KindRugpull }

// Alert reasons.
const (
	ReasonKeyword       = "Keyword detected in logs"
	ReasonLargeTransfer = "Large token transfer"
	ReasonBurn          = "Token burn"
	ReasonAccountClosed = "Token account closed"
)

// Listener receives classified events on the pipeline's goroutine and must not block.
type Listener func(Event)

// InstructionKind names the SPL token instructions the classifier cares about.
type InstructionKind string

const (
	InstrTransfer        InstructionKind = "transfer"
	InstrTransferChecked InstructionKind = "transferChecked"
	InstrBurn            InstructionKind = "burn"
	InstrBurnChecked     InstructionKind = "burnChecked"
	InstrCloseAccount    InstructionKind = "closeAccount"
	InstrInitializeMint  InstructionKind = "initializeMint"
	InstrInitializeMint2 InstructionKind = "initializeMint2"
)

// TokenInstruction is a decoded SPL token instruction. Mint is set only when
// the instruction itself names it.
type TokenInstruction struct {
	Kind        InstructionKind
	Amount      uint64
	Mint        string
	Source      string
	Destination string
	Account     string
}

// TxDetails is the token-level view of one transaction.
type TxDetails struct {
	Signature    string
	Instructions []TokenInstruction
	// AccountMints maps token accounts to their mint, from pre/post balances.
	AccountMints map[string]string
	// Mints lists every mint the transaction touched, in first-seen order.
	Mints []string
}

// Inspector fetches and decodes a transaction by signature.
type Inspector interface {
	Inspect(ctx context.Context, signature string) (*TxDetails, error)
}

// SnapshotLookup confirms that a mint is indexed by the market provider.
type SnapshotLookup interface {
	GetSnapshot(ctx context.Context, address string) (*market.Snapshot, error)
}

// Recorder receives pipeline and supervisor counters.
type Recorder interface {
	SurveillanceEvent(kind string)
	SurveillanceReconnect()
	SurveillanceState(state string)
}

type nopRecorder struct{}

func (nopRecorder) SurveillanceEvent(string) {}
func (nopRecorder) SurveillanceReconnect() {}
func (nopRecorder) SurveillanceState(string) {}
