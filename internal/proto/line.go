// Package proto implements the line-oriented wire format shared by the transports.
//
// Inbound records are single lines of the form
//
//	connId|COMMAND|arg1|arg2...
//
// Clients of connection-oriented transports (WebSocket) omit the connection id and send
// COMMAND|arg1|arg2... frames; the server supplies the id. Outbound lines are free text,
// categorized by the conventional prefixes below.
package proto

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates fields in a record.
const Delimiter = "|"

// MaxConnIDLen bounds connection ids, which double as file names in the pipe transport.
const MaxConnIDLen = 128

// Outbound line prefixes.
const (
	PrefixSystem = "SYSTEM: "
	PrefixError  = "ERROR: "
	PrefixDMFrom = "[DM from "
	PrefixDMTo   = "[DM to "
)

var (
	// ErrMalformed is returned for lines missing required fields.
	ErrMalformed = errors.New("malformed record")
	// ErrBadConnID is returned for empty, oversized or unsafe connection ids.
	ErrBadConnID = errors.New("invalid connection id")
)

// Record is one parsed inbound line.
type Record struct {
	ConnID  string
	Command string
	Args    []string
}

// ParseRecord parses a control-channel line carrying its own connection id.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, Delimiter, 3)
	if len(parts) < 2 {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	if err := ValidateConnID(parts[0]); err != nil {
		return Record{}, err
	}
	return newRecord(parts[0], parts[1], parts[2:])
}

// ParseFrame parses a client frame for a connection whose id is already known.
func ParseFrame(connID, line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, Delimiter, 2)
	return newRecord(connID, parts[0], parts[1:])
}

func newRecord(connID, command string, rest []string) (Record, error) {
	command = strings.ToUpper(strings.TrimSpace(command))
	if command == "" {
		return Record{}, fmt.Errorf("%w: empty command", ErrMalformed)
	}
	rec := Record{ConnID: connID, Command: command}
	if len(rest) > 0 {
		rec.Args = strings.Split(rest[0], Delimiter)
	}
	return rec, nil
}

// FormatRecord renders a control-channel line without the trailing newline.
func FormatRecord(connID, command string, args ...string) string {
	fields := append([]string{connID, command}, args...)
	return strings.Join(fields, Delimiter)
}

// FormatFrame renders a client frame without the trailing newline.
func FormatFrame(command string, args ...string) string {
	return strings.Join(append([]string{command}, args...), Delimiter)
}

// ValidateConnID accepts 1..MaxConnIDLen characters from [A-Za-z0-9_.-],
// excluding the names "." and "..".
func ValidateConnID(id string) error {
	if id == "" || len(id) > MaxConnIDLen || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrBadConnID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrBadConnID, id)
		}
	}
	return nil
}
