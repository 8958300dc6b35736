// internal/surveillance/inspector.go
package surveillance

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// TransactionFetcher is the RPC call the inspector depends on.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
}

// RPCInspector decodes SPL token activity out of fetched transactions.
type RPCInspector struct {
	fetcher TransactionFetcher
	logger  *zap.Logger
}

var _ Inspector = (*RPCInspector)(nil)

func NewRPCInspector(fetcher TransactionFetcher, logger *zap.Logger) *RPCInspector {
	return &RPCInspector{fetcher: fetcher, logger: logger.Named("tx-inspector")}
}

func (i *RPCInspector) Inspect(ctx context.Context, signature string) (*TxDetails, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	result, err := i.fetcher.GetTransaction(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("transaction %s: empty result", signature)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", signature, err)
	}
	return decodeDetails(signature, tx, result.Meta, i.logger), nil
}

// decodeDetails resolves account indexes against static and loaded keys and
// decodes every top-level and inner token program instruction.
func decodeDetails(signature string, tx *solana.Transaction, meta *rpc.TransactionMeta, logger *zap.Logger) *TxDetails {
	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	details := &TxDetails{
		Signature:    signature,
		AccountMints: make(map[string]string),
	}
	seen := make(map[string]struct{})
	addMint := func(m string) {
		if m == "" {
			return
		}
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		details.Mints = append(details.Mints, m)
	}

	if meta != nil {
		for _, balances := range [][]rpc.TokenBalance{meta.PreTokenBalances, meta.PostTokenBalances} {
			for _, b := range balances {
				if int(b.AccountIndex) >= len(keys) {
					continue
				}
				mint := b.Mint.String()
				details.AccountMints[keys[b.AccountIndex].String()] = mint
				addMint(mint)
			}
		}
	}

	compiled := append([]solana.CompiledInstruction{}, tx.Message.Instructions...)
	if meta != nil {
		for _, inner := range meta.InnerInstructions {
			compiled = append(compiled, inner.Instructions...)
		}
	}

	for _, ci := range compiled {
		ins, ok, err := decodeTokenInstruction(keys, ci)
		if err != nil {
			logger.Debug("Skipping undecodable token instruction",
				zap.String("signature", signature), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		details.Instructions = append(details.Instructions, ins)
		addMint(ins.Mint)
	}
	return details
}

// decodeTokenInstruction returns ok=false for instructions of other programs
// or token instructions the classifier ignores.
func decodeTokenInstruction(keys solana.PublicKeySlice, ci solana.CompiledInstruction) (TokenInstruction, bool, error) {
	if int(ci.ProgramIDIndex) >= len(keys) || !keys[ci.ProgramIDIndex].Equals(solana.TokenProgramID) {
		return TokenInstruction{}, false, nil
	}

	accounts := make([]string, 0, len(ci.Accounts))
	metas := make([]*solana.AccountMeta, 0, len(ci.Accounts))
	for _, idx := range ci.Accounts {
		if int(idx) >= len(keys) {
			return TokenInstruction{}, false, fmt.Errorf("account index %d out of range", idx)
		}
		accounts = append(accounts, keys[idx].String())
		metas = append(metas, solana.Meta(keys[idx]))
	}
	at := func(i int) string {
		if i < len(accounts) {
			return accounts[i]
		}
		return ""
	}

	decoded, err := token.DecodeInstruction(metas, ci.Data)
	if err != nil {
		return TokenInstruction{}, false, err
	}

	switch v := decoded.Impl.(type) {
	case *token.Transfer:
		return TokenInstruction{Kind: InstrTransfer, Amount: deref(v.Amount), Source: at(0), Destination: at(1)}, true, nil
	case *token.TransferChecked:
		return TokenInstruction{Kind: InstrTransferChecked, Amount: deref(v.Amount), Source: at(0), Mint: at(1), Destination: at(2)}, true, nil
	case *token.Burn:
		return TokenInstruction{Kind: InstrBurn, Amount: deref(v.Amount), Account: at(0), Mint: at(1)}, true, nil
	case *token.BurnChecked:
		return TokenInstruction{Kind: InstrBurnChecked, Amount: deref(v.Amount), Account: at(0), Mint: at(1)}, true, nil
	case *token.CloseAccount:
		return TokenInstruction{Kind: InstrCloseAccount, Account: at(0), Destination: at(1)}, true, nil
	case *token.InitializeMint:
		return TokenInstruction{Kind: InstrInitializeMint, Mint: at(0)}, true, nil
	case *token.InitializeMint2:
		return TokenInstruction{Kind: InstrInitializeMint2, Mint: at(0)}, true, nil
	}
	return TokenInstruction{}, false, nil
}

func deref(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
