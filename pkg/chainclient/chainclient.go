// Package chainclient talks to a Solana RPC endpoint: fetching raw account
// data with retry on transient errors, and built on top of that, resolving
// an Anchor program's on-chain IDL account (§4.3).
package chainclient

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/soldocs/soldocs/pkg/logx"
	"github.com/soldocs/soldocs/pkg/metrics"
)

// idlSeed is the seed Anchor's CLI uses when writing a program's IDL
// account: the account sits at create_with_seed(base, idlSeed, programID),
// where base is the program's own no-seed PDA (find_program_address([],
// programID)). The IDL account is owned by the program itself, not by a
// separate well-known Anchor program.
const idlSeed = "anchor:idl"

const maxRetries = 3

// headerOffsets are the candidate header lengths tried, in order, when
// decoding an IDL account's payload (§4.3): the new format carries a
// discriminator, an authority pubkey, and a length (44 bytes); the old
// format drops the authority (12 bytes); the minimal format is just a
// discriminator and length (8 bytes).
var headerOffsets = []int{44, 12, 8}

const maxDeclaredLength = 10_000_000

// Account is the raw payload returned by GetAccount.
type Account struct {
	Data       []byte
	Owner      string
	Executable bool
	Length     int
}

// Client wraps a Solana RPC endpoint.
type Client struct {
	rpc     *rpc.Client
	logger  *logx.Logger
	metrics *metrics.Registry
}

// New constructs a Client bound to rpcURL. reg may be nil, in which case
// call metrics are not recorded.
func New(rpcURL string, reg *metrics.Registry) *Client {
	return &Client{rpc: rpc.New(rpcURL), logger: logx.New("chainclient"), metrics: reg}
}

// Ping confirms the RPC endpoint is reachable at startup, per §6's
// fail-fast validation.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.rpc.GetVersion(ctx)
	return err
}

// GetAccount fetches the account at address, retrying on rate-limit and
// transient transport errors (§4.3). A missing account is not an error: it
// returns (nil, nil).
func (c *Client) GetAccount(ctx context.Context, address string) (*Account, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("chainclient: invalid address %s: %w", address, err)
	}
	return withRetry(ctx, maxRetries, c.metrics, func() (*Account, error) {
		return c.getAccountOnce(ctx, pubkey)
	})
}

func (c *Client) getAccountOnce(ctx context.Context, pubkey solana.PublicKey) (*Account, error) {
	result, err := c.rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if result == nil || result.Value == nil {
		return nil, nil
	}
	data := result.Value.Data.GetBinary()
	return &Account{
		Data:       data,
		Owner:      result.Value.Owner.String(),
		Executable: result.Value.Executable,
		Length:     len(data),
	}, nil
}

// isRetryable matches the §4.3 contract: retry iff the error message
// contains 429, 502, or 503.
func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "502") || strings.Contains(msg, "503")
}

// withRetry runs fn up to maxAttempts times, retrying only retryable
// errors with backoff 2^attempt*1000ms + uniform random [0,500)ms. Every
// attempt is recorded into soldocs_chain_requests_total when reg is non-nil.
func withRetry[T any](ctx context.Context, maxAttempts int, reg *metrics.Registry, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err := fn()
		recordChainCall(reg, err)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := time.Duration(1<<uint(attempt))*time.Second + time.Duration(rand.Intn(500))*time.Millisecond
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

func recordChainCall(reg *metrics.Registry, err error) {
	if reg == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	reg.ChainRequestTotal.WithLabelValues(status).Inc()
}

// FetchIDL resolves programID's Anchor IDL account and returns the decoded
// JSON document, or nil if no valid IDL could be decoded.
func (c *Client) FetchIDL(ctx context.Context, programID string) (map[string]any, error) {
	programKey, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("chainclient: invalid program id %s: %w", programID, err)
	}
	idlAddr, err := idlAddress(programKey)
	if err != nil {
		return nil, fmt.Errorf("chainclient: derive idl address: %w", err)
	}

	account, err := c.GetAccount(ctx, idlAddr.String())
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	for _, offset := range headerOffsets {
		idl, ok := decodeIDLAt(account.Data, offset)
		if ok {
			return idl, nil
		}
	}
	c.logger.Warn("no header offset produced a valid idl for %s", programID)
	return nil, nil
}

// idlAddress derives the address of programKey's Anchor IDL account: the
// program's own no-seed PDA, seeded with idlSeed via create_with_seed.
// This mirrors the Anchor CLI's own idl_address derivation, which is owned
// by the target program, not a separate fixed program.
func idlAddress(programKey solana.PublicKey) (solana.PublicKey, error) {
	base, _, err := solana.FindProgramAddress([][]byte{}, programKey)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive base address: %w", err)
	}
	addr, err := solana.CreateWithSeed(base, idlSeed, programKey)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive seeded address: %w", err)
	}
	return addr, nil
}

// decodeIDLAt attempts to decode account data assuming a header of the
// given length followed by a little-endian uint32 length and that many
// zlib-deflated JSON bytes.
func decodeIDLAt(data []byte, offset int) (map[string]any, bool) {
	if len(data) < offset+4 {
		return nil, false
	}
	declaredLength := binary.LittleEndian.Uint32(data[offset : offset+4])
	available := len(data) - offset - 4
	if declaredLength == 0 || int(declaredLength) > available || declaredLength > maxDeclaredLength {
		return nil, false
	}

	compressed := data[offset+4 : offset+4+int(declaredLength)]
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, false
	}
	defer reader.Close()
	inflated, err := io.ReadAll(reader)
	if err != nil {
		return nil, false
	}

	var idl map[string]any
	if err := json.Unmarshal(inflated, &idl); err != nil {
		return nil, false
	}
	instructions, ok := idl["instructions"].([]any)
	if !ok || len(instructions) == 0 {
		return nil, false
	}
	return idl, true
}
