package dex

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"swapscope/internal/model"
)

// Plutus data constructors are CBOR tags: 121..127 for alternatives
// 0..6, 1280..1400 for 7..127, and tag 102 for the general form.
const (
	constrTagLow     = 121
	constrTagHigh    = 127
	constrTagMidLow  = 1280
	constrTagMidHigh = 1400
	constrTagGeneral = 102
)

// Constr is a decoded Plutus data constructor.
type Constr struct {
	Alternative uint64
	Fields      []any
}

// DecodeDatum parses raw datum CBOR into a constructor tree.
func DecodeDatum(data []byte) (*Constr, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty datum")
	}
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode datum cbor: %w", err)
	}
	return asConstr(v)
}

func asConstr(v any) (*Constr, error) {
	tag, ok := v.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected constructor tag, got %T", v)
	}

	var alternative uint64
	switch {
	case tag.Number >= constrTagLow && tag.Number <= constrTagHigh:
		alternative = tag.Number - constrTagLow
	case tag.Number >= constrTagMidLow && tag.Number <= constrTagMidHigh:
		alternative = tag.Number - constrTagMidLow + 7
	case tag.Number == constrTagGeneral:
		content, ok := tag.Content.([]any)
		if !ok || len(content) != 2 {
			return nil, fmt.Errorf("malformed general constructor")
		}
		alt, err := toUint64(content[0])
		if err != nil {
			return nil, fmt.Errorf("general constructor alternative: %w", err)
		}
		fields, ok := content[1].([]any)
		if !ok {
			return nil, fmt.Errorf("general constructor fields not a list")
		}
		return &Constr{Alternative: alt, Fields: fields}, nil
	default:
		return nil, fmt.Errorf("unexpected tag %d", tag.Number)
	}

	fields, ok := tag.Content.([]any)
	if !ok {
		return nil, fmt.Errorf("constructor content not a list")
	}
	return &Constr{Alternative: alternative, Fields: fields}, nil
}

// FieldConstr returns field i as a nested constructor.
func (c *Constr) FieldConstr(i int) (*Constr, error) {
	if i >= len(c.Fields) {
		return nil, fmt.Errorf("field %d out of range (%d fields)", i, len(c.Fields))
	}
	return asConstr(c.Fields[i])
}

// FieldBytes returns field i as a byte string.
func (c *Constr) FieldBytes(i int) ([]byte, error) {
	if i >= len(c.Fields) {
		return nil, fmt.Errorf("field %d out of range (%d fields)", i, len(c.Fields))
	}
	b, ok := c.Fields[i].([]byte)
	if !ok {
		return nil, fmt.Errorf("field %d is %T, not bytes", i, c.Fields[i])
	}
	return b, nil
}

// FieldUint returns field i as an unsigned integer.
func (c *Constr) FieldUint(i int) (uint64, error) {
	if i >= len(c.Fields) {
		return 0, fmt.Errorf("field %d out of range (%d fields)", i, len(c.Fields))
	}
	n, err := toUint64(c.Fields[i])
	if err != nil {
		return 0, fmt.Errorf("field %d: %w", i, err)
	}
	return n, nil
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative integer %d", n)
		}
		return uint64(n), nil
	case big.Int:
		if !n.IsUint64() {
			return 0, fmt.Errorf("integer out of uint64 range")
		}
		return n.Uint64(), nil
	default:
		return 0, fmt.Errorf("value is %T, not an integer", v)
	}
}

// assetUnit converts a datum asset class (policy id + asset name byte
// strings) into the canonical unit string. The empty asset class denotes
// the native coin.
func assetUnit(policy, name []byte) string {
	if len(policy) == 0 && len(name) == 0 {
		return model.LovelaceUnit
	}
	return hex.EncodeToString(policy) + hex.EncodeToString(name)
}

// assetClassFromConstr decodes the common constr-0 [policy, name] shape.
func assetClassFromConstr(c *Constr) (string, error) {
	if c.Alternative != 0 {
		return "", fmt.Errorf("unexpected asset class alternative %d", c.Alternative)
	}
	policy, err := c.FieldBytes(0)
	if err != nil {
		return "", fmt.Errorf("asset policy: %w", err)
	}
	name, err := c.FieldBytes(1)
	if err != nil {
		return "", fmt.Errorf("asset name: %w", err)
	}
	return assetUnit(policy, name), nil
}
