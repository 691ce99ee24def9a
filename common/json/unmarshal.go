package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
)

var (
	Marshal   = json.Marshal
	Unmarshal = json.Unmarshal
)

type SyntaxError = json.SyntaxError

// UnmarshalExtended decodes commented JSON, rejecting unknown fields. Syntax errors carry
// the row and column of the offending byte.
func UnmarshalExtended[T any](content []byte) (T, error) {
	var value T
	decoder := json.NewDecoder(bytes.NewReader(StripComments(content)))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&value)
	if err == nil {
		return value, nil
	}
	var syntaxError *SyntaxError
	if errors.As(err, &syntaxError) {
		prefix := string(content[:syntaxError.Offset])
		row := strings.Count(prefix, "\n") + 1
		column := len(prefix) - strings.LastIndex(prefix, "\n") - 1
		return value, E.Extend(syntaxError, "row ", row, ", column ", column)
	}
	return value, err
}
