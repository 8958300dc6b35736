// internal/surveillance/classifier.go
package surveillance

import (
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var rugpullKeywords = []string{"withdraw liquidity", "burn", "close account"}

const initializeMintMarker = "initializemint"

// matchKeyword returns the first log line carrying a rugpull phrase.
func matchKeyword(logs []string) (line, keyword string, ok bool) {
	for _, l := range logs {
		lower := strings.ToLower(l)
		for _, kw := range rugpullKeywords {
			if strings.Contains(lower, kw) {
				return l, kw, true
			}
		}
	}
	return "", "", false
}

// mentionsInitializeMint is the cheap pre-filter for new token detection.
func mentionsInitializeMint(logs []string) bool {
	for _, l := range logs {
		if strings.Contains(strings.ToLower(l), initializeMintMarker) {
			return true
		}
	}
	return false
}

// NewMint returns the mint initialized by the transaction, if any.
func (d *TxDetails) NewMint() (string, bool) {
	for _, ins := range d.Instructions {
		if (ins.Kind == InstrInitializeMint || ins.Kind == InstrInitializeMint2) && ins.Mint != "" {
			return ins.Mint, true
		}
	}
	return "", false
}

// PrimaryMint is the first mint touched that is not wrapped SOL.
func (d *TxDetails) PrimaryMint() string {
	wsol := solana.WrappedSol.String()
	for _, m := range d.Mints {
		if m != wsol {
			return m
		}
	}
	return ""
}

// MintOf resolves the mint an instruction operates on.
func (d *TxDetails) MintOf(ins TokenInstruction) string {
	if ins.Mint != "" {
		return ins.Mint
	}
	for _, acc := range []string{ins.Source, ins.Destination, ins.Account} {
		if m, ok := d.AccountMints[acc]; ok && acc != "" {
			return m
		}
	}
	return ""
}

// structuredAlerts flags large transfers, burns and account closures. Each
// matching instruction yields its own alert.
func structuredAlerts(signature string, d *TxDetails, threshold uint64) []RugpullAlert {
	var alerts []RugpullAlert
	for _, ins := range d.Instructions {
		mint := d.MintOf(ins)
		switch ins.Kind {
		case InstrTransfer, InstrTransferChecked:
			if ins.Amount <= threshold {
				continue
			}
			alerts = append(alerts, RugpullAlert{
				TokenAddress: mint,
				Signature:    signature,
				Reason:       ReasonLargeTransfer,
				Evidence: map[string]string{
					"amount": strconv.FormatUint(ins.Amount, 10),
					"mint":   mint,
					"from":   ins.Source,
					"to":     ins.Destination,
				},
			})
		case InstrBurn, InstrBurnChecked:
			alerts = append(alerts, RugpullAlert{
				TokenAddress: mint,
				Signature:    signature,
				Reason:       ReasonBurn,
				Evidence: map[string]string{
					"amount": strconv.FormatUint(ins.Amount, 10),
					"mint":   mint,
				},
			})
		case InstrCloseAccount:
			alerts = append(alerts, RugpullAlert{
				TokenAddress: mint,
				Signature:    signature,
				Reason:       ReasonAccountClosed,
				Evidence: map[string]string{
					"account": ins.Account,
					"mint":    mint,
				},
			})
		}
	}
	return alerts
}
