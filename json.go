package dstore

import (
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// LoadJSON loads a JSON object or an array of objects. Comments and
// trailing commas are allowed.
func (s *Store) LoadJSON(m *Model, data []byte) ([]*Record, error) {
	hashes, err := ParseHashes(data)
	if err != nil {
		return nil, err
	}
	return s.LoadMany(m, hashes)
}

// ParseHashes decodes a JSON object or array of objects into wire hashes.
func ParseHashes(data []byte) ([]Hash, error) {
	clean := jsonc.ToJSON(data)
	if !gjson.ValidBytes(clean) {
		return nil, errors.Wrap(ErrInvalidJSON, "contents could not be parsed")
	}

	parsed := gjson.ParseBytes(clean)
	switch {
	case parsed.IsObject():
		return []Hash{hashFromResult(parsed)}, nil
	case parsed.IsArray():
		var hashes []Hash
		var err error
		parsed.ForEach(func(_, v gjson.Result) bool {
			if !v.IsObject() {
				err = errors.Wrapf(ErrInvalidJSON, "element %d is not an object", len(hashes))
				return false
			}
			hashes = append(hashes, hashFromResult(v))
			return true
		})
		return hashes, err
	}

	return nil, errors.Wrap(ErrInvalidJSON, "expected an object or an array of objects")
}

func hashFromResult(v gjson.Result) Hash {
	m, _ := v.Value().(map[string]interface{})
	return Hash(m)
}
