package aqara

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Protocol command names carried in the "cmd" field.
const (
	CmdWhois        = "whois"
	CmdIAm          = "iam"
	CmdGetIDList    = "get_id_list"
	CmdGetIDListAck = "get_id_list_ack"
	CmdRead         = "read"
	CmdReadAck      = "read_ack"
	CmdWrite        = "write"
	CmdWriteAck     = "write_ack"
	CmdReport       = "report"
	CmdHeartbeat    = "heartbeat"
)

// Envelope is one protocol datagram.
//
// Data holds a JSON document encoded as a string. It is left undecoded here;
// use Payload or DeviceList to parse it.
type Envelope struct {
	Cmd     string     `json:"cmd"`
	Model   string     `json:"model,omitempty"`
	SID     string     `json:"sid,omitempty"`
	ShortID flexString `json:"short_id,omitempty"`
	Token   string     `json:"token,omitempty"`
	IP      string     `json:"ip,omitempty"`
	Port    flexString `json:"port,omitempty"`
	Data    string     `json:"data,omitempty"`
}

// flexString accepts either a JSON string or a JSON number. Gateway firmware
// is inconsistent about quoting port and short_id.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Decode parses a raw datagram into an Envelope.
// Any parse failure wraps ErrMalformedPayload.
func Decode(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if env.Cmd == "" {
		return nil, fmt.Errorf("%w: missing cmd", ErrMalformedPayload)
	}
	return &env, nil
}

// Encode serialises an Envelope as a single-line JSON datagram.
func Encode(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Cmd, err)
	}
	return b, nil
}

// Payload parses the nested data document as an object.
// An empty data field yields an empty payload.
func (e *Envelope) Payload() (map[string]any, error) {
	p := make(map[string]any)
	if strings.TrimSpace(e.Data) == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(e.Data), &p); err != nil {
		return nil, fmt.Errorf("%w: data of %s from %s: %w", ErrMalformedPayload, e.Cmd, e.SID, err)
	}
	if p == nil {
		p = make(map[string]any)
	}
	return p, nil
}

// DeviceList parses the nested data document of a get_id_list_ack.
func (e *Envelope) DeviceList() ([]string, error) {
	var ids []string
	if strings.TrimSpace(e.Data) == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(e.Data), &ids); err != nil {
		return nil, fmt.Errorf("%w: device list from %s: %w", ErrMalformedPayload, e.SID, err)
	}
	return ids, nil
}

// NewWhois builds the multicast discovery request.
func NewWhois() *Envelope {
	return &Envelope{Cmd: CmdWhois}
}

// NewGetIDList builds a device list request for a gateway.
func NewGetIDList() *Envelope {
	return &Envelope{Cmd: CmdGetIDList}
}

// NewRead builds a state read request for one device.
func NewRead(sid string) *Envelope {
	return &Envelope{Cmd: CmdRead, SID: sid}
}

// NewWrite builds a write command. data is stringified into the data field.
func NewWrite(model, sid string, data map[string]any) (*Envelope, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding write data for %s: %w", sid, err)
	}
	return &Envelope{Cmd: CmdWrite, Model: model, SID: sid, Data: string(b)}, nil
}

// numberField reads a numeric payload field. Gateways send most readings as
// quoted integers, so numeric strings are accepted. Absent, empty or
// non-numeric values report false.
func numberField(p map[string]any, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// stringField reads a string payload field.
func stringField(p map[string]any, key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}
