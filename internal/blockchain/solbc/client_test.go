package solbc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

// rpcServer answers JSON-RPC calls from a per-method responder.
func rpcServer(t *testing.T, respond func(method string, call int) string) *httptest.Server {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		method := gjson.GetBytes(body, "method").String()
		id := gjson.GetBytes(body, "id").Raw
		n := int(atomic.AddInt32(&calls, 1))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":`+id+`,`+respond(method, n)+`}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	c := NewClient(url, zaptest.NewLogger(t))
	c.confirmInterval = 5 * time.Millisecond
	c.confirmTimeout = time.Second
	return c
}

func TestGetBalance(t *testing.T) {
	srv := rpcServer(t, func(method string, _ int) string {
		assert.Equal(t, "getBalance", method)
		return `"result":{"context":{"slot":1},"value":12345}`
	})

	balance, err := newTestClient(t, srv.URL).GetBalance(context.Background(), solana.NewWallet().PublicKey(), rpc.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), balance)
}

func TestGetTokenAccountBalanceMissingAccount(t *testing.T) {
	srv := rpcServer(t, func(string, int) string {
		return `"error":{"code":-32602,"message":"Invalid param: could not find account"}`
	})

	_, err := newTestClient(t, srv.URL).GetTokenAccountBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAccountNotFound))
	assert.True(t, IsAccountNotFoundError(err))
}

func TestWaitForTransactionConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		respond func(method string, call int) string
		wantErr error
	}{
		{
			name: "confirmed after pending",
			respond: func(_ string, call int) string {
				if call < 3 {
					return `"result":{"context":{"slot":1},"value":[null]}`
				}
				return `"result":{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":null,"confirmationStatus":"confirmed"}]}`
			},
		},
		{
			name: "on-chain failure is permanent",
			respond: func(string, int) string {
				return `"result":{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"confirmed"}]}`
			},
			wantErr: ErrTransactionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, tt.respond)
			err := newTestClient(t, srv.URL).WaitForTransactionConfirmation(context.Background(), solana.Signature{1}, rpc.CommitmentConfirmed)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReached(t *testing.T) {
	assert.True(t, reached(rpc.ConfirmationStatusFinalized, rpc.CommitmentFinalized))
	assert.True(t, reached(rpc.ConfirmationStatusConfirmed, rpc.CommitmentConfirmed))
	assert.False(t, reached(rpc.ConfirmationStatusConfirmed, rpc.CommitmentFinalized))
	assert.False(t, reached(rpc.ConfirmationStatusProcessed, rpc.CommitmentConfirmed))
}

func TestDescribeError(t *testing.T) {
	rpcErr := &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data: map[string]interface{}{
			"logs": []interface{}{
				"Program log: Instruction: Route",
				"Program log: AnchorError occurred. Error Code: SlippageToleranceExceeded. Error Number: 6001. Error Message: Slippage tolerance exceeded.",
			},
		},
	}
	assert.Equal(t,
		"rpc error -32002: Transaction simulation failed (anchor SlippageToleranceExceeded #6001: Slippage tolerance exceeded)",
		DescribeError(rpcErr))
	assert.Equal(t, "boom", DescribeError(errors.New("boom")))
	assert.Empty(t, DescribeError(nil))
}
