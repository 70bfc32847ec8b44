package ipc

import (
	"errors"
	"fmt"
)

// ProtocolVersion is exchanged in the initialised handshake.
const ProtocolVersion = 1

// ErrProtocol marks messages that violate the wire contract: unknown tags,
// messages travelling in the wrong direction, or missing required fields.
var ErrProtocol = errors.New("ipc protocol violation")

// MessageType discriminates the message union on the wire.
type MessageType string

const (
	TypeInitialised MessageType = "initialised"
	TypeLinkFile    MessageType = "link-file"
	TypeRemoveLink  MessageType = "remove-link"
	TypeCompleted   MessageType = "completed"
	TypeLog         MessageType = "log"
	TypeReport      MessageType = "report"
	TypeError       MessageType = "error"
	TypeQuit        MessageType = "quit"
	TypeDisconnect  MessageType = "disconnect"
)

// Side identifies which end of the channel a Conn belongs to.
type Side int

const (
	// Host is the unprivileged process that owns the server.
	Host Side = iota
	// Helper is the elevated process that dials in.
	Helper
)

func (s Side) String() string {
	if s == Helper {
		return "helper"
	}
	return "host"
}

// ReportNotSupported is the report kind emitted when the filesystem cannot
// hold symbolic links.
const ReportNotSupported = "not-supported"

// Message is one line on the wire. Only the fields relevant to Type are set.
// A successful completed omits err; a peer sending "err":null decodes the same.
type Message struct {
	Type MessageType `json:"type"`

	// initialised
	Token   string `json:"token,omitempty"`
	Version int    `json:"version,omitempty"`

	// link-file, remove-link, completed, report
	Num         uint64 `json:"num,omitempty"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`

	// completed
	Err *RemoteError `json:"err,omitempty"`

	// log, error
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`

	// report
	Kind string `json:"kind,omitempty"`
}

// RemoteError is a failure raised in the helper and carried back to the host.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// sender returns the side allowed to emit t. The boolean is false for tags
// outside the catalog.
func sender(t MessageType) (Side, bool) {
	switch t {
	case TypeLinkFile, TypeRemoveLink, TypeQuit:
		return Host, true
	case TypeInitialised, TypeCompleted, TypeLog, TypeReport, TypeError, TypeDisconnect:
		return Helper, true
	default:
		return Host, false
	}
}

// Validate checks the tag is known, was sent by from, and carries the fields
// its type requires.
func (m Message) Validate(from Side) error {
	side, ok := sender(m.Type)
	if !ok {
		return fmt.Errorf("%w: unknown message type %q", ErrProtocol, m.Type)
	}
	if side != from {
		return fmt.Errorf("%w: %s may not send %q", ErrProtocol, from, m.Type)
	}
	switch m.Type {
	case TypeInitialised:
		if m.Token == "" {
			return fmt.Errorf("%w: initialised without token", ErrProtocol)
		}
	case TypeLinkFile:
		if m.Num == 0 || m.Source == "" || m.Destination == "" {
			return fmt.Errorf("%w: link-file requires num, source and destination", ErrProtocol)
		}
	case TypeRemoveLink:
		if m.Num == 0 || m.Destination == "" {
			return fmt.Errorf("%w: remove-link requires num and destination", ErrProtocol)
		}
	case TypeCompleted:
		if m.Num == 0 {
			return fmt.Errorf("%w: completed without num", ErrProtocol)
		}
	case TypeReport:
		if m.Kind == "" {
			return fmt.Errorf("%w: report without kind", ErrProtocol)
		}
	}
	return nil
}

// LinkFile builds a host request to link destination to source.
func LinkFile(num uint64, source, destination string) Message {
	return Message{Type: TypeLinkFile, Num: num, Source: source, Destination: destination}
}

// RemoveLink builds a host request to remove the link at destination.
func RemoveLink(num uint64, destination string) Message {
	return Message{Type: TypeRemoveLink, Num: num, Destination: destination}
}

// Completed builds the helper reply for operation num. A nil err reports success.
func Completed(num uint64, err *RemoteError) Message {
	return Message{Type: TypeCompleted, Num: num, Err: err}
}

// Quit asks the helper to exit.
func Quit() Message {
	return Message{Type: TypeQuit}
}
