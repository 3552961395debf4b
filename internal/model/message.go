package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind identifies the type of a coordination envelope
type MessageKind string

const (
	// KindClaim is a candidacy claim for a proposed term
	KindClaim MessageKind = "claim"
	// KindAnnounce is a leader announcement, sent on election win and as heartbeat
	KindAnnounce MessageKind = "announce"
	// KindWrite is a forwarded write request from a follower to the leader
	KindWrite MessageKind = "write"
	// KindAck is the leader's response to a forwarded write
	KindAck MessageKind = "ack"
)

// Envelope is the unit of exchange on the broadcast channel. Every message
// carries the sender's peer ID and its leadership term so receivers can fence
// stale traffic. To, when set, addresses the envelope to a single peer; other
// receivers drop it.
type Envelope struct {
	Kind      MessageKind `json:"kind"`
	From      string      `json:"from"`
	To        string      `json:"to,omitempty"`
	Term      uint64      `json:"term"`
	Timestamp int64       `json:"ts"` // unix milliseconds at send time

	Write *WriteRequest  `json:"write,omitempty"`
	Ack   *WriteResponse `json:"ack,omitempty"`
}

// Encode serializes the envelope for the wire
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an envelope from wire bytes
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &env, nil
}

// NowMillis returns the current wall clock in unix milliseconds, the
// timestamp unit used on the wire
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// WriteRequest is a write a follower wants the leader to apply
type WriteRequest struct {
	RequestID uint64        `json:"request_id"`
	SQL       string        `json:"sql"`
	Params    []interface{} `json:"params,omitempty"`
	TimeoutMS int64         `json:"timeout_ms"`
}

// WriteResponse is the leader's acknowledgement of a forwarded write
type WriteResponse struct {
	RequestID uint64     `json:"request_id"`
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	Result    *ResultSet `json:"result,omitempty"`
}
