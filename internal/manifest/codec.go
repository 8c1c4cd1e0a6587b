package manifest

import (
	"encoding/binary"
	"fmt"

	"github.com/postfiatorg/validator-history-service/internal/model"
)

// Field codes of the serialized manifest object, as (type << 8 | field).
const (
	fieldSequence        = 2<<8 | 4
	fieldPublicKey       = 7<<8 | 1
	fieldSigningPubKey   = 7<<8 | 3
	fieldSignature       = 7<<8 | 6
	fieldDomain          = 7<<8 | 7
	fieldMasterSignature = 7<<8 | 18

	typeUInt32 = 2
	typeBlob   = 7
)

// signingPrefix precedes the unsigned serialization when signing manifests.
var signingPrefix = []byte{'M', 'A', 'N', 0}

// Parse decodes the binary serialization of a manifest. It does not verify
// signatures.
func Parse(raw []byte) (*Parsed, error) {
	p := &Parsed{Raw: append([]byte(nil), raw...)}
	seen := make(map[int]bool)
	var haveSequence bool

	for i := 0; i < len(raw); {
		code, n, err := readFieldID(raw[i:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
		}
		i += n
		if seen[code] {
			return nil, fmt.Errorf("%w: duplicate field %d/%d", model.ErrDecode, code>>8, code&0xFF)
		}
		seen[code] = true

		switch code >> 8 {
		case typeUInt32:
			if len(raw)-i < 4 {
				return nil, fmt.Errorf("%w: truncated uint32", model.ErrDecode)
			}
			v := binary.BigEndian.Uint32(raw[i : i+4])
			i += 4
			if code != fieldSequence {
				return nil, fmt.Errorf("%w: unexpected uint32 field %d", model.ErrDecode, code&0xFF)
			}
			p.Sequence = v
			haveSequence = true
		case typeBlob:
			length, n, err := readVL(raw[i:])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
			}
			i += n
			if len(raw)-i < length {
				return nil, fmt.Errorf("%w: truncated blob", model.ErrDecode)
			}
			blob := append([]byte(nil), raw[i:i+length]...)
			i += length
			switch code {
			case fieldPublicKey:
				p.MasterKey = blob
			case fieldSigningPubKey:
				p.SigningKey = blob
			case fieldSignature:
				p.Signature = blob
			case fieldDomain:
				p.Domain = string(blob)
			case fieldMasterSignature:
				p.MasterSignature = blob
			default:
				return nil, fmt.Errorf("%w: unexpected blob field %d", model.ErrDecode, code&0xFF)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported field type %d", model.ErrDecode, code>>8)
		}
	}

	if !haveSequence {
		return nil, fmt.Errorf("%w: missing sequence", model.ErrDecode)
	}
	if len(p.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: missing signing key", model.ErrDecode)
	}
	return p, nil
}

// Serialize returns the canonical binary form of p, including signatures.
func Serialize(p *Parsed) []byte {
	return serialize(p, true)
}

// SigningData returns the bytes covered by both manifest signatures.
func SigningData(p *Parsed) []byte {
	return append(append([]byte(nil), signingPrefix...), serialize(p, false)...)
}

func serialize(p *Parsed, withSignatures bool) []byte {
	var out []byte
	out = appendFieldID(out, fieldSequence)
	out = binary.BigEndian.AppendUint32(out, p.Sequence)
	if len(p.MasterKey) > 0 {
		out = appendBlob(out, fieldPublicKey, p.MasterKey)
	}
	out = appendBlob(out, fieldSigningPubKey, p.SigningKey)
	if withSignatures && len(p.Signature) > 0 {
		out = appendBlob(out, fieldSignature, p.Signature)
	}
	if p.Domain != "" {
		out = appendBlob(out, fieldDomain, []byte(p.Domain))
	}
	if withSignatures && len(p.MasterSignature) > 0 {
		out = appendBlob(out, fieldMasterSignature, p.MasterSignature)
	}
	return out
}

func readFieldID(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("truncated field id")
	}
	typ, field := int(b[0]>>4), int(b[0]&0x0F)
	n := 1
	if typ == 0 {
		if len(b) < n+1 {
			return 0, 0, fmt.Errorf("truncated field type")
		}
		typ = int(b[n])
		n++
	}
	if field == 0 {
		if len(b) < n+1 {
			return 0, 0, fmt.Errorf("truncated field code")
		}
		field = int(b[n])
		n++
	}
	return typ<<8 | field, n, nil
}

func appendFieldID(out []byte, code int) []byte {
	typ, field := byte(code>>8), byte(code&0xFF)
	switch {
	case typ < 16 && field < 16:
		return append(out, typ<<4|field)
	case typ < 16:
		return append(out, typ<<4, field)
	case field < 16:
		return append(out, field, typ)
	default:
		return append(out, 0, typ, field)
	}
}

func readVL(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("truncated length")
	}
	b0 := int(b[0])
	switch {
	case b0 <= 192:
		return b0, 1, nil
	case b0 <= 240:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("truncated length")
		}
		return 193 + (b0-193)*256 + int(b[1]), 2, nil
	case b0 <= 254:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("truncated length")
		}
		return 12481 + (b0-241)*65536 + int(b[1])*256 + int(b[2]), 3, nil
	default:
		return 0, 0, fmt.Errorf("invalid length prefix 0x%02X", b0)
	}
}

func appendBlob(out []byte, code int, blob []byte) []byte {
	out = appendFieldID(out, code)
	n := len(blob)
	switch {
	case n <= 192:
		out = append(out, byte(n))
	case n <= 12480:
		n -= 193
		out = append(out, byte(193+n/256), byte(n%256))
	default:
		n -= 12481
		out = append(out, byte(241+n/65536), byte(n/256%256), byte(n%256))
	}
	return append(out, blob...)
}
