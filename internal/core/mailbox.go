package core

// Mailboxes owns the per-connection outbound sinks.
// Implementations must make Deliver atomic per line: concurrent deliveries to the same
// connection may interleave whole lines but never corrupt them.
type Mailboxes interface {
	// Open makes sure a mailbox exists for id. Opening an open mailbox is a no-op.
	Open(id string) error
	// Deliver appends one line. It returns ErrNoMailbox if id has no open mailbox.
	Deliver(id, line string) error
	// Close releases the mailbox for id. Closing a missing mailbox is a no-op.
	Close(id string) error
}
