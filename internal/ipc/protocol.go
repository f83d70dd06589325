// Package ipc provides the control channel between the expandd daemon
// and its CLI. Clients connect over a unix socket (TCP loopback on
// Windows) and exchange framed messages: a fixed 16-byte header
// followed by a JSON payload.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x45495043 // "EIPC"
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages
	MsgPing  MessageType = 0x0001
	MsgPong  MessageType = 0x0002
	MsgError MessageType = 0x0003

	// Daemon status
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Input lock
	MsgLock       MessageType = 0x0200
	MsgLockResp   MessageType = 0x0201
	MsgUnlock     MessageType = 0x0202
	MsgUnlockResp MessageType = 0x0203

	// Configuration
	MsgReload     MessageType = 0x0300
	MsgReloadResp MessageType = 0x0301

	// Snippets
	MsgListSnippets     MessageType = 0x0400
	MsgListSnippetsResp MessageType = 0x0401
)

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32 // payload length, not including the header
}

const HeaderSize = 16

// MaxPayloadSize bounds a single message payload. Snippet listings are
// the largest thing on this channel and stay well under it.
const MaxPayloadSize = 16 * 1024 * 1024

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a header from a reader.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the message to a writer.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/response payloads

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInternal     = "internal_error"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotSupported = "not_supported"
)

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version        string `json:"version"`
	PID            int    `json:"pid"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Locked         bool   `json:"locked"`
	SnippetCount   int    `json:"snippet_count"`
	ExpansionCount int64  `json:"expansion_count"`
	HookBackend    string `json:"hook_backend"`
	HotkeyBackend  string `json:"hotkey_backend"`
}

// LockRequest asks the daemon to change the input lock state.
type LockRequest struct {
	Locked bool `json:"locked"`
}

// LockResponse reports the lock state after the request was applied.
type LockResponse struct {
	Locked bool `json:"locked"`
}

// ReloadResponse reports the outcome of a config reload.
type ReloadResponse struct {
	SnippetCount int `json:"snippet_count"`
	BindingCount int `json:"binding_count"`
}

// SnippetInfo is one entry in a snippet listing.
type SnippetInfo struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	ContentLen int    `json:"content_len"`
}

// ListSnippetsResponse carries the registered snippets.
type ListSnippetsResponse struct {
	Snippets []SnippetInfo `json:"snippets"`
}
