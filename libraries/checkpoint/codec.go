package checkpoint

import (
	jsoniter "github.com/json-iterator/go"
)

// jsonAPI mirrors the teacher's package-wide jsoniter.Config: case-sensitive,
// numbers preserved as json.Number so large Scn/Seq values never round-trip
// through a float64.
var jsonAPI = jsoniter.Config{
	EscapeHTML:             false,
	DisallowUnknownFields:  false,
	ValidateJsonRawMessage: false,
	CaseSensitive:          true,
	UseNumber:              true,
	SortMapKeys:            false,
}.Froze()

func encodeState(s State) ([]byte, error) {
	return jsonAPI.Marshal(s)
}

func decodeState(data []byte) (State, error) {
	var s State
	if len(data) == 0 {
		return s, nil
	}
	err := jsonAPI.Unmarshal(data, &s)
	return s, err
}
