package registry

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// EncodeJSON marshals v into a JSON column value. Nil slices and maps encode as SQL NULL.
func EncodeJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return datatypes.JSON(raw), nil
}

// MustEncodeJSON is EncodeJSON for values that cannot fail to marshal (plain structs and slices).
func MustEncodeJSON(v interface{}) datatypes.JSON {
	raw, err := EncodeJSON(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// DecodeJSON unmarshals a JSON column into out; empty columns leave out untouched.
func DecodeJSON(raw datatypes.JSON, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}
