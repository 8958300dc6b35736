// internal/blockchain/solbc/error_analyzer.go
package solbc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// AnchorError is the structured part of an "AnchorError occurred" log line.
type AnchorError struct {
	Code int
	Name string
	Msg  string
}

// DescribeError condenses an RPC send error into one line. Simulation
// failures are reduced to the Anchor error, or the last program log line.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return err.Error()
	}

	summary := fmt.Sprintf("rpc error %d: %s", rpcErr.Code, rpcErr.Message)
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return summary
	}
	logs, _ := data["logs"].([]interface{})

	var last string
	for _, entry := range logs {
		line, ok := entry.(string)
		if !ok {
			continue
		}
		if strings.Contains(line, "AnchorError occurred") {
			a := parseAnchorErrorLog(line)
			return fmt.Sprintf("%s (anchor %s #%d: %s)", summary, a.Name, a.Code, a.Msg)
		}
		if strings.HasPrefix(line, "Program log:") {
			last = strings.TrimSpace(strings.TrimPrefix(line, "Program log:"))
		}
	}
	if last != "" {
		return fmt.Sprintf("%s (%s)", summary, last)
	}
	return summary
}

// parseAnchorErrorLog parses lines such as
// "Program log: AnchorError occurred. Error Code: SlippageExceeded. Error Number: 6004. Error Message: Slippage tolerance exceeded."
func parseAnchorErrorLog(line string) AnchorError {
	var result AnchorError
	if v, ok := field(line, "Error Number:"); ok {
		fmt.Sscanf(v, "%d", &result.Code)
	}
	if v, ok := field(line, "Error Code:"); ok {
		result.Name = v
	}
	if v, ok := field(line, "Error Message:"); ok {
		result.Msg = v
	}
	return result
}

func field(line, label string) (string, bool) {
	_, rest, ok := strings.Cut(line, label)
	if !ok {
		return "", false
	}
	value, _, _ := strings.Cut(rest, ".")
	return strings.TrimSpace(value), true
}
