package shareit

import "errors"

// Error taxonomy shared by the stores, the service and the protocol
// handlers. Lower layers wrap these with fmt.Errorf("...: %w", err); the
// session maps them to reply strings with errors.Is.
var (
	ErrAuthenticationRequired = errors.New("not authenticated")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAlreadyExists          = errors.New("already exists")
	ErrQuotaExceeded          = errors.New("storage limit exceeded")
	ErrNotFound               = errors.New("not found")
	ErrAccessDenied           = errors.New("access denied")
	ErrIO                     = errors.New("i/o failure")
	ErrInvalidArgument        = errors.New("invalid argument")

	// ErrContentMissing marks a transfer whose metadata exists but whose
	// blob could not be found.
	ErrContentMissing = errors.New("content missing from blob store")

	// ErrChecksumMismatch marks stored content that no longer hashes to the
	// checksum recorded when the upload completed.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrShortBody is returned by BlobStore.Write when the source ended
	// before the declared size was read.
	ErrShortBody = errors.New("source ended before declared size")
)
