package room

import "errors"

// Error values surfaced through create/join acknowledgments. The message text
// is what clients display, so it stays in the service's user-facing language.
var (
	// ErrRoomNotFound is returned when an operation names a room id that is
	// not present in the registry.
	ErrRoomNotFound = errors.New("Room não existe")

	// ErrInvalidPassphrase is returned when passphrase verification against a
	// protected room's hash fails.
	ErrInvalidPassphrase = errors.New("Senha incorreta")

	// ErrInternal wraps unexpected faults (hashing primitive failures and the
	// like) so that callers never see raw internals.
	ErrInternal = errors.New("Erro interno")
)
