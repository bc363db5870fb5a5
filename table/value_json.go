package table

import (
	"encoding/base64"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// jsonValue is the wire shape of a Value in JSON. The type tag keeps
// decoding unambiguous (JSON numbers alone cannot distinguish INT from
// FLOAT).
type jsonValue struct {
	Type string   `json:"t"`
	Int  *int64   `json:"i,omitempty"`
	Num  *float64 `json:"f,omitempty"`
	Str  *string  `json:"s,omitempty"`
	Bool *bool    `json:"b,omitempty"`
	Raw  string   `json:"x,omitempty"` // base64 for BYTES
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Type: v.typ.String()}
	switch v.typ {
	case TypeNull:
	case TypeInt:
		jv.Int = &v.i
	case TypeFloat:
		jv.Num = &v.f
	case TypeString:
		jv.Str = &v.s
	case TypeBool:
		b := v.i != 0
		jv.Bool = &b
	case TypeBytes:
		jv.Raw = base64.StdEncoding.EncodeToString(v.b)
	default:
		return nil, fmt.Errorf("cannot encode value of type %s", v.typ)
	}
	return gojson.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := gojson.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.Type {
	case "NULL":
		*v = Null()
	case "INT":
		if jv.Int == nil {
			return fmt.Errorf("INT value missing payload")
		}
		*v = Int(*jv.Int)
	case "FLOAT":
		if jv.Num == nil {
			return fmt.Errorf("FLOAT value missing payload")
		}
		*v = Float(*jv.Num)
	case "STRING":
		if jv.Str == nil {
			return fmt.Errorf("STRING value missing payload")
		}
		*v = String(*jv.Str)
	case "BOOL":
		if jv.Bool == nil {
			return fmt.Errorf("BOOL value missing payload")
		}
		*v = Bool(*jv.Bool)
	case "BYTES":
		raw, err := base64.StdEncoding.DecodeString(jv.Raw)
		if err != nil {
			return fmt.Errorf("decode BYTES payload: %w", err)
		}
		*v = Bytes(raw)
	default:
		return fmt.Errorf("unknown value type %q", jv.Type)
	}
	return nil
}
