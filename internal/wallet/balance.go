// internal/wallet/balance.go
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solsniperx/internal/blockchain/solbc"
)

// AccountReader is the slice of the RPC client the balance reader needs.
type AccountReader interface {
	GetBalance(ctx context.Context, pubkey solana.PublicKey, commitment rpc.CommitmentType) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error)
}

// Balances reads the wallet's SOL and SPL token holdings.
type Balances struct {
	wallet *Wallet
	reader AccountReader
}

func NewBalances(w *Wallet, reader AccountReader) *Balances {
	return &Balances{wallet: w, reader: reader}
}

// RawTokenBalance returns the raw amount held in the wallet's associated
// token account and the mint decimals. A missing account is a zero balance
// with unknown decimals.
func (b *Balances) RawTokenBalance(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, uint8, error) {
	ata, err := b.wallet.GetATA(mint)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("derive ATA for %s: %w", mint, err)
	}

	result, err := b.reader.GetTokenAccountBalance(ctx, ata)
	if err != nil {
		if errors.Is(err, solbc.ErrAccountNotFound) || solbc.IsAccountNotFoundError(err) {
			return decimal.Zero, 0, nil
		}
		return decimal.Zero, 0, fmt.Errorf("token balance for %s: %w", mint, err)
	}
	if result == nil || result.Value == nil {
		return decimal.Zero, 0, nil
	}

	raw, err := decimal.NewFromString(result.Value.Amount)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("parse token amount %q: %w", result.Value.Amount, err)
	}
	return raw, result.Value.Decimals, nil
}

// TokenBalance returns the wallet's holding of mint in whole-token units.
func (b *Balances) TokenBalance(ctx context.Context, mint string) (decimal.Decimal, error) {
	key, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	raw, decimals, err := b.RawTokenBalance(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Shift(-int32(decimals)), nil
}

// SOLBalance returns the wallet's native balance in SOL.
func (b *Balances) SOLBalance(ctx context.Context) (decimal.Decimal, error) {
	lamports, err := b.reader.GetBalance(ctx, b.wallet.PublicKey, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SOL balance: %w", err)
	}
	return decimal.NewFromUint64(lamports).Shift(-9), nil
}
