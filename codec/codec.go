package codec

import (
	"strings"

	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/sdata"
)

// Codec translates between rows and transport payloads. The engine core only
// sees rows; payload layout is entirely the codec's business.
type Codec interface {
	Name() string
	EncodeRow(row sdata.Row, schema *sdata.Schema) ([]byte, error)
	DecodeRow(payload []byte, schema *sdata.Schema) (sdata.Row, error)
	// Key payloads for a single column key hold the bare value; multi column
	// keys use the same layout as rows.
	EncodeKey(key sdata.Row, schema *sdata.Schema) ([]byte, error)
	DecodeKey(payload []byte, schema *sdata.Schema) (sdata.Row, error)
}

func GetCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "json":
		return &JSONCodec{}, nil
	case "delimited":
		return &DelimitedCodec{}, nil
	default:
		return nil, errors.NewStatementErrorf("unknown value format '%s' - must be one of 'JSON', 'DELIMITED'", name)
	}
}
