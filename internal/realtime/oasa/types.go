package oasa

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ArrivalRow is one entry of the getStopArrivals response
type ArrivalRow struct {
	RouteCode Text `json:"route_code"`
	VehCode   Text `json:"veh_code"`
	BTime2    Text `json:"btime2"`
}

// Text accepts a JSON string, number or null and keeps its literal text.
// The API usually quotes numbers but does not always do so.
type Text string

// UnmarshalJSON implements json.Unmarshaler
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}
