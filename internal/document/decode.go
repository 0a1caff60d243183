package document

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/acme-corp/meeting-archiver/internal/errors"
)

// MaxDepth bounds the nesting of decoded documents.
const MaxDepth = 512

// ErrTooDeep is returned by Decode for input nested deeper than MaxDepth.
var ErrTooDeep = errors.New(errors.ErrMalformedRecord, "document nested too deeply")

// Decode parses a single JSON value.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errors.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

// MustDecode is Decode for literals known to be valid. It panics on error.
func MustDecode(s string) Value {
	v, err := Decode([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err == io.EOF {
		return Value{}, errors.Wrap(io.ErrUnexpectedEOF, "decoding document")
	} else if err != nil {
		return Value{}, errors.Wrap(err, "decoding document")
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		if depth >= MaxDepth {
			return Value{}, ErrTooDeep
		}
		switch t {
		case '[':
			elems := []Value{}
			for dec.More() {
				e, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, e)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, errors.Wrap(err, "closing sequence")
			}
			return Sequence(elems...), nil
		case '{':
			var entries []Entry
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, errors.Wrap(err, "reading key")
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, errors.Errorf("unexpected key token %v", kt)
				}
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				entries = append(entries, Entry{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, errors.Wrap(err, "closing mapping")
			}
			return Mapping(entries...), nil
		}
	}
	return Value{}, errors.Errorf("unexpected token %v", tok)
}
