// Package codec implements the canonical binary encoding of rollup
// transactions: an ABI tuple (string operationTag, uint256 operand), the
// same layout a contract-call would use. Encode and Decode form a bijection
// over the defined transaction kinds.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

var (
	ErrInvalidKind    = errors.New("unrecognized transaction kind")
	ErrMalformedInput = errors.New("malformed transaction encoding")
)

func txArguments() (abi.Arguments, error) {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	return abi.Arguments{
		{Name: "operationTag", Type: stringType},
		{Name: "operand", Type: uint256Type},
	}, nil
}

// Encode serializes tx into its wire form.
func Encode(tx vm.Transaction) ([]byte, error) {
	if !tx.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, uint8(tx.Kind))
	}
	args, err := txArguments()
	if err != nil {
		return nil, err
	}
	packed, err := args.Pack(tx.Kind.String(), tx.Operand.ToBig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return packed, nil
}

// Decode parses a wire-form transaction. Truncated and oversized buffers are
// both rejected: ABI decoding tolerates trailing bytes, so canonicality is
// enforced by re-encoding and comparing.
func Decode(data []byte) (vm.Transaction, error) {
	args, err := txArguments()
	if err != nil {
		return vm.Transaction{}, err
	}
	values, err := args.Unpack(data)
	if err != nil {
		return vm.Transaction{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	tag, ok := values[0].(string)
	if !ok {
		return vm.Transaction{}, fmt.Errorf("%w: operation tag is not a string", ErrMalformedInput)
	}
	operand, ok := values[1].(*big.Int)
	if !ok {
		return vm.Transaction{}, fmt.Errorf("%w: operand is not an integer", ErrMalformedInput)
	}
	kind, ok := vm.KindFromTag(tag)
	if !ok {
		return vm.Transaction{}, fmt.Errorf("%w: %q", ErrInvalidKind, tag)
	}
	op, overflow := uint256.FromBig(operand)
	if overflow {
		return vm.Transaction{}, fmt.Errorf("%w: operand exceeds 256 bits", ErrMalformedInput)
	}
	tx := vm.Transaction{Kind: kind, Operand: *op}

	canonical, err := Encode(tx)
	if err != nil {
		return vm.Transaction{}, err
	}
	if !bytes.Equal(canonical, data) {
		return vm.Transaction{}, fmt.Errorf("%w: non-canonical encoding", ErrMalformedInput)
	}
	return tx, nil
}

// EncodeBatch serializes every transaction in the batch.
func EncodeBatch(txs []vm.Transaction) ([][]byte, error) {
	out := make([][]byte, 0, len(txs))
	for i, tx := range txs {
		raw, err := Encode(tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// DecodeBatch parses every transaction in the batch.
func DecodeBatch(raws [][]byte) ([]vm.Transaction, error) {
	out := make([]vm.Transaction, 0, len(raws))
	for i, raw := range raws {
		tx, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out = append(out, tx)
	}
	return out, nil
}
