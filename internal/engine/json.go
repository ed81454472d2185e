package engine

import "encoding/json"

func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// windowSnapshot is what a CLU/MEMA rule-mode event's window_json records:
// enough to explain the activation without re-running the predicate.
type windowSnapshot struct {
	WindowSize int      `json:"window_size,omitempty"`
	WindowUnit string   `json:"window_unit"`
	Members    []string `json:"contributing"`
}

func marshalWindow(ws windowSnapshot) (string, error) {
	if ws.Members == nil {
		ws.Members = []string{}
	}
	b, err := json.Marshal(ws)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
