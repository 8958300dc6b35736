// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Wallet is the trading key pair.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[solana.PublicKey]solana.PublicKey
}

// NewWallet creates a wallet from a base58 encoded 64-byte private key.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
		ataCache:   make(map[solana.PublicKey]solana.PublicKey),
	}, nil
}

// SignTransaction signs the slot reserved for this wallet. Transactions
// decoded from an aggregator arrive with zeroed signature placeholders, so
// the signature is written in place rather than appended.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	content, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if required > len(tx.Message.AccountKeys) {
		return fmt.Errorf("malformed message: %d signers, %d keys", required, len(tx.Message.AccountKeys))
	}
	for i := 0; i < required; i++ {
		if !tx.Message.AccountKeys[i].Equals(w.PublicKey) {
			continue
		}
		sig, err := w.PrivateKey.Sign(content)
		if err != nil {
			return fmt.Errorf("sign message: %w", err)
		}
		for len(tx.Signatures) < required {
			tx.Signatures = append(tx.Signatures, solana.Signature{})
		}
		tx.Signatures[i] = sig
		return nil
	}
	return fmt.Errorf("wallet %s is not a signer of this transaction", w.PublicKey)
}

// GetATA returns the associated token account for mint, cached after the first derivation.
func (w *Wallet) GetATA(mint solana.PublicKey) (solana.PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ata, ok := w.ataCache[mint]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mint] = ata
	return ata, nil
}

func (w *Wallet) String() string {
	return w.PublicKey.String()
}
