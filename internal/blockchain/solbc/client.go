// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	defaultConfirmInterval = 500 * time.Millisecond
	defaultConfirmTimeout  = 30 * time.Second
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrNotConfirmed     = errors.New("transaction not yet confirmed")
	ErrTransactionFailed = errors.New("transaction failed on-chain")
)

// IsAccountNotFoundError reports whether the RPC said the account does not exist.
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find account")
}

// TransactionOptions controls how a transaction is submitted.
type TransactionOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
}

// Client is a thin solana-go RPC adapter.
type Client struct {
	rpc    *rpc.Client
	logger *zap.Logger

	confirmInterval time.Duration
	confirmTimeout  time.Duration
}

func NewClient(rpcURL string, logger *zap.Logger) *Client {
	return &Client{
		rpc:             rpc.New(rpcURL),
		logger:          logger.Named("solbc-client"),
		confirmInterval: defaultConfirmInterval,
		confirmTimeout:  defaultConfirmTimeout,
	}
}

// GetTransaction fetches a transaction, accepting legacy and v0 messages.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	result, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		c.logger.Debug("GetTransaction error",
			zap.String("signature", sig.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// GetAccountDataInto fetches an account and binary-decodes it into dst.
func (c *Client) GetAccountDataInto(ctx context.Context, pubkey solana.PublicKey, dst interface{}) error {
	err := c.rpc.GetAccountDataInto(ctx, pubkey, dst)
	if err != nil {
		c.logger.Debug("GetAccountDataInto error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return err
	}
	return nil
}

// GetMintDecimals reads the decimals field of an SPL mint.
func (c *Client) GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	var m token.Mint
	if err := c.GetAccountDataInto(ctx, mint, &m); err != nil {
		return 0, fmt.Errorf("read mint %s: %w", mint, err)
	}
	return m.Decimals, nil
}

// GetBalance returns the lamport balance of pubkey.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey, commitment rpc.CommitmentType) (uint64, error) {
	result, err := c.rpc.GetBalance(ctx, pubkey, commitment)
	if err != nil {
		c.logger.Error("GetBalance error", zap.Error(err))
		return 0, err
	}
	return result.Value, nil
}

// GetTokenAccountBalance returns the balance of an SPL token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error) {
	result, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		if IsAccountNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		}
		return nil, err
	}
	return result, nil
}

// GetSignatureStatuses fetches the status of the given signatures.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	result, err := c.rpc.GetSignatureStatuses(ctx, false, signatures...)
	if err != nil {
		c.logger.Error("GetSignatureStatuses error", zap.Error(err))
		return nil, err
	}
	return result, nil
}

// SendTransactionWithOpts submits a signed transaction.
func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts TransactionOptions) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment,
	})
	if err != nil {
		c.logger.Error("SendTransactionWithOpts error",
			zap.String("details", DescribeError(err)),
			zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

// WaitForTransactionConfirmation polls the signature status with exponential
// backoff until it reaches commitment. An on-chain error stops polling.
func (c *Client) WaitForTransactionConfirmation(ctx context.Context, signature solana.Signature, commitment rpc.CommitmentType) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.confirmInterval
	exp.MaxInterval = 4 * c.confirmInterval

	op := func() (struct{}, error) {
		statuses, err := c.GetSignatureStatuses(ctx, signature)
		if err != nil {
			return struct{}{}, err
		}
		if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
			return struct{}{}, ErrNotConfirmed
		}
		status := statuses.Value[0]
		if status.Err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err))
		}
		if reached(status.ConfirmationStatus, commitment) {
			return struct{}{}, nil
		}
		return struct{}{}, ErrNotConfirmed
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxElapsedTime(c.confirmTimeout),
	)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", signature, err)
	}
	return nil
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return want != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return want == rpc.CommitmentProcessed
	}
	return false
}
