package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeState holds the persisted state of the node itself.
type NodeState struct {
	Provisioned bool      `json:"provisioned"`
	LowPower    bool      `json:"low_power"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusRecord is the last host event of one type received from one source.
// Data is the decoded event payload as JSON.
type StatusRecord struct {
	Type       string          `json:"type"`
	Opcode     uint16          `json:"opcode"`
	Src        uint16          `json:"src"`
	AppKeyIdx  uint16          `json:"app_key_idx"`
	ElementIdx uint8           `json:"element_idx"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"received_at"`
}

// statusKey orders records by type, then by source address.
func statusKey(eventType string, src uint16) []byte {
	return []byte(fmt.Sprintf("%s/%04X", eventType, src))
}
