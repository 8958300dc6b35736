// internal/executor/executor.go
package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solsniperx/internal/logger"
	"github.com/rovshanmuradov/solsniperx/internal/wallet"
)

const lamportsPerSOLExp = 9

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidToken  = errors.New("invalid token address")
)

// Receipt describes a confirmed swap. TokenAmount is in whole-token units:
// the amount received for a buy (zero when it could not be measured) and
// the amount sold for a sell.
type Receipt struct {
	Signature   string          `json:"transaction_id"`
	Message     string          `json:"message"`
	AmountSOL   decimal.Decimal `json:"amount_sol"`
	TokenAmount decimal.Decimal `json:"amount_tokens"`
}

// Executor performs swaps between SOL and SPL tokens. A nil error means the
// transaction was confirmed without an on-chain error.
type Executor interface {
	Buy(ctx context.Context, token string, amountSOL decimal.Decimal, slippagePct float64) (Receipt, error)
	Sell(ctx context.Context, token string, amountTokens decimal.Decimal, slippagePct float64) (Receipt, error)
}

// Chain is the RPC surface the executor needs.
type Chain interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solbc.TransactionOptions) (solana.Signature, error)
	WaitForTransactionConfirmation(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) error
	GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// TokenBalances measures the wallet's holding of a mint in raw units.
type TokenBalances interface {
	RawTokenBalance(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, uint8, error)
}

// Quoter produces unsigned swap transactions.
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int64) ([]byte, error)
	SwapTransaction(ctx context.Context, quote []byte, user solana.PublicKey) (string, error)
}

// Service executes swaps through an aggregator and the wallet's key.
type Service struct {
	quoter   Quoter
	chain    Chain
	balances TokenBalances
	wallet   *wallet.Wallet
	logger   *zap.Logger
}

var (
	_ Executor = (*Service)(nil)
	_ Quoter   = (*Jupiter)(nil)
)

func NewService(quoter Quoter, chain Chain, balances TokenBalances, w *wallet.Wallet, logger *zap.Logger) *Service {
	return &Service{
		quoter:   quoter,
		chain:    chain,
		balances: balances,
		wallet:   w,
		logger:   logger.Named("executor"),
	}
}

// Buy swaps amountSOL into token and measures the amount received from the
// wallet's associated token account.
func (s *Service) Buy(ctx context.Context, token string, amountSOL decimal.Decimal, slippagePct float64) (Receipt, error) {
	receipt := Receipt{AmountSOL: amountSOL}
	log := logger.WithOperation(s.logger, "buy").With(zap.String("token", token))
	defer logger.TrackPerformance(log, "buy")()

	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return s.fail(log, receipt, "buy", fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}
	lamports := amountSOL.Shift(lamportsPerSOLExp).Floor()
	if !lamports.IsPositive() {
		return s.fail(log, receipt, "buy", ErrInvalidAmount)
	}

	log.Info("Executing BUY order",
		zap.String("amount_sol", amountSOL.String()),
		zap.Float64("slippage_pct", slippagePct))

	before, beforeDecimals, beforeErr := s.balances.RawTokenBalance(ctx, mint)
	if beforeErr != nil {
		log.Warn("Pre-trade token balance unavailable", zap.Error(beforeErr))
	}

	sig, err := s.swap(ctx, solana.WrappedSol.String(), token, uint64(lamports.IntPart()), slippagePct)
	if err != nil {
		return s.fail(log, receipt, "buy", err)
	}
	receipt.Signature = sig.String()

	after, afterDecimals, afterErr := s.balances.RawTokenBalance(ctx, mint)
	switch {
	case beforeErr != nil || afterErr != nil:
		log.Warn("Received amount unknown", zap.Error(afterErr))
	default:
		decimals := afterDecimals
		if decimals == 0 {
			decimals = beforeDecimals
		}
		if received := after.Sub(before); received.IsPositive() {
			receipt.TokenAmount = received.Shift(-int32(decimals))
		}
	}

	receipt.Message = fmt.Sprintf("Successfully bought %s SOL worth of %s", amountSOL, token)
	log.Info("✅ Buy confirmed",
		zap.String("signature", receipt.Signature),
		zap.String("tokens_received", receipt.TokenAmount.String()))
	return receipt, nil
}

// Sell swaps amountTokens (whole-token units) of token into SOL.
func (s *Service) Sell(ctx context.Context, token string, amountTokens decimal.Decimal, slippagePct float64) (Receipt, error) {
	receipt := Receipt{TokenAmount: amountTokens}
	log := logger.WithOperation(s.logger, "sell").With(zap.String("token", token))
	defer logger.TrackPerformance(log, "sell")()

	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return s.fail(log, receipt, "sell", fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}
	if !amountTokens.IsPositive() {
		return s.fail(log, receipt, "sell", ErrInvalidAmount)
	}

	decimals, err := s.chain.GetMintDecimals(ctx, mint)
	if err != nil {
		return s.fail(log, receipt, "sell", fmt.Errorf("could not determine decimals: %w", err))
	}
	raw := amountTokens.Shift(int32(decimals)).Floor()
	if !raw.IsPositive() {
		return s.fail(log, receipt, "sell", ErrInvalidAmount)
	}

	log.Info("Executing SELL order",
		zap.String("amount_tokens", amountTokens.String()),
		zap.Float64("slippage_pct", slippagePct))

	sig, err := s.swap(ctx, token, solana.WrappedSol.String(), uint64(raw.IntPart()), slippagePct)
	if err != nil {
		return s.fail(log, receipt, "sell", err)
	}
	receipt.Signature = sig.String()
	receipt.Message = fmt.Sprintf("Successfully sold %s %s tokens", amountTokens, token)
	log.Info("✅ Sell confirmed", zap.String("signature", receipt.Signature))
	return receipt, nil
}

// swap quotes, signs, submits and confirms one transaction.
func (s *Service) swap(ctx context.Context, input, output string, amount uint64, slippagePct float64) (solana.Signature, error) {
	quote, err := s.quoter.Quote(ctx, input, output, amount, SlippageBps(slippagePct))
	if err != nil {
		return solana.Signature{}, err
	}
	encoded, err := s.quoter.SwapTransaction(ctx, quote, s.wallet.PublicKey)
	if err != nil {
		return solana.Signature{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("parse swap transaction: %w", err)
	}
	if err := s.wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("sign swap transaction: %w", err)
	}

	sig, err := s.chain.SendTransactionWithOpts(ctx, tx, solbc.TransactionOptions{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	txLog := logger.WithTransaction(s.logger, sig.String())
	txLog.Info("Transaction sent")

	if err := s.chain.WaitForTransactionConfirmation(ctx, sig, rpc.CommitmentConfirmed); err != nil {
		return sig, fmt.Errorf("transaction %s failed: %w", sig, err)
	}
	txLog.Debug("Transaction confirmed")
	return sig, nil
}

func (s *Service) fail(log *zap.Logger, receipt Receipt, side string, err error) (Receipt, error) {
	receipt.Message = fmt.Sprintf("Failed to execute %s order: %v", side, err)
	log.Error("❌ Order failed", zap.String("side", side), zap.Error(err))
	return receipt, err
}

// SlippageBps converts a percentage into basis points.
func SlippageBps(pct float64) int64 {
	return decimal.NewFromFloat(pct).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
