// Package blockchain wraps the L2 JSON-RPC endpoint used for account
// classification and on-chain (ERC-1271) signature checks.
package blockchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// AccountClass is the shape of an account as derived from its code.
type AccountClass int

const (
	ClassEOA AccountClass = iota
	ClassContract
	ClassDelegated
)

func (c AccountClass) String() string {
	switch c {
	case ClassContract:
		return "contract"
	case ClassDelegated:
		return "delegated"
	default:
		return "eoa"
	}
}

// Classification is the result of inspecting an account's code. Delegate is
// only set for ClassDelegated and names the EIP-7702 delegation target.
type Classification struct {
	Class    AccountClass
	Delegate common.Address
}

// EIP-7702 delegation designator: code is exactly 0xef0100 || 20-byte target.
var delegationPrefix = []byte{0xef, 0x01, 0x00}

const delegatedCodeLen = 3 + common.AddressLength

// ERC-1271: isValidSignature(bytes32,bytes) returns the selector itself as
// magic value on success.
const erc1271ABIJSON = `[
	{
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "isValidSignature",
		"outputs": [{"name": "", "type": "bytes4"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var erc1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

// DefaultCallTimeout bounds every outbound call to the L2 RPC.
const DefaultCallTimeout = 10 * time.Second

type Client struct {
	eth        *ethclient.Client
	erc1271ABI abi.ABI
	timeout    time.Duration
}

func Dial(rawurl string) (*Client, error) {
	client, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("connecting to L2 RPC: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc1271ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing ERC-1271 ABI: %w", err)
	}

	return &Client{
		eth:        client,
		erc1271ABI: parsed,
		timeout:    DefaultCallTimeout,
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// ClassifyAccount inspects the code at address on the latest block. A
// failure to reach the RPC is returned as an error so callers never fall
// back to a guessed class.
func (c *Client) ClassifyAccount(ctx context.Context, address common.Address) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	code, err := c.eth.CodeAt(ctx, address, nil)
	if err != nil {
		return Classification{}, fmt.Errorf("eth_getCode %s: %w", address.Hex(), err)
	}

	switch {
	case len(code) == 0:
		return Classification{Class: ClassEOA}, nil
	case len(code) == delegatedCodeLen && bytes.HasPrefix(code, delegationPrefix):
		return Classification{
			Class:    ClassDelegated,
			Delegate: common.BytesToAddress(code[3:]),
		}, nil
	default:
		return Classification{Class: ClassContract}, nil
	}
}

// ValidSignature1271 calls isValidSignature on the account contract. It
// returns (false, nil) when the contract rejects the signature, reverts, or
// answers with anything other than the magic value; the error return is
// reserved for the RPC itself being unreachable.
func (c *Client) ValidSignature1271(ctx context.Context, address common.Address, hash common.Hash, signature []byte) (bool, error) {
	data, err := c.erc1271ABI.Pack("isValidSignature", hash, signature)
	if err != nil {
		return false, fmt.Errorf("packing isValidSignature: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		// Reverts carry error data from the node; anything else means we
		// never got an answer at all.
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) || strings.Contains(err.Error(), "execution reverted") {
			return false, nil
		}
		return false, fmt.Errorf("eth_call isValidSignature: %w", err)
	}

	results, err := c.erc1271ABI.Unpack("isValidSignature", out)
	if err != nil {
		return false, nil
	}
	magic, ok := results[0].([4]byte)
	return ok && magic == erc1271Magic, nil
}
