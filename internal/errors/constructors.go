package errors

import "fmt"

// Locate errors (game installation discovery).

// GameNotFound indicates no Steam library claims the requested app id.
func GameNotFound(appID int) *LauncherError {
	return New(CategoryLocate, SeverityFatal, fmt.Sprintf("no Steam library contains app %d", appID)).
		WithContext("app_id", appID)
}

// InvalidInstallation indicates the install path exists but the expected
// executable is missing or unreadable.
func InvalidInstallation(path string, cause error) *LauncherError {
	return Wrap(cause, CategoryLocate, SeverityFatal, "game directory exists but installation is invalid").
		WithContext("path", path)
}

// Network errors.

// NetworkTimeout indicates a request exceeded its deadline. Retryable.
func NetworkTimeout(url string, cause error) *LauncherError {
	return Wrap(cause, CategoryNetwork, SeverityError, "request timed out").
		WithContext("url", url).
		WithRetryable(true)
}

// ConnectionFailed indicates the transport failed before or during transfer. Retryable.
func ConnectionFailed(url string, cause error) *LauncherError {
	return Wrap(cause, CategoryNetwork, SeverityError, "connection failed").
		WithContext("url", url).
		WithRetryable(true)
}

// HTTPStatus indicates a non-success HTTP response. 5xx is retryable, 4xx is not.
func HTTPStatus(url string, code int) *LauncherError {
	return New(CategoryNetwork, SeverityError, fmt.Sprintf("unexpected HTTP status %d", code)).
		WithContext("url", url).
		WithContext("status", code).
		WithRetryable(code >= 500)
}

// TruncatedTransfer indicates the response body ended before the declared size. Retryable.
func TruncatedTransfer(url string, got, want int64) *LauncherError {
	return New(CategoryNetwork, SeverityError, fmt.Sprintf("truncated transfer: got %d of %d bytes", got, want)).
		WithContext("url", url).
		WithRetryable(true)
}

// Manifest errors. A partially-trusted manifest is never used, so these are fatal.

// ManifestMalformed indicates the manifest document or one of its entries could
// not be parsed or validated.
func ManifestMalformed(detail string, cause error) *LauncherError {
	return Wrap(cause, CategoryManifest, SeverityFatal, "malformed manifest: "+detail)
}

// DuplicateID indicates two manifest entries share an id.
func DuplicateID(id string) *LauncherError {
	return New(CategoryManifest, SeverityFatal, "duplicate manifest entry id").
		WithContext("mod_id", id)
}

// Integrity errors.

// HashMismatch indicates the downloaded artifact does not match the declared
// digest. Never retryable against the same bytes.
func HashMismatch(id, want, got string) *LauncherError {
	return New(CategoryIntegrity, SeverityError, "artifact digest does not match manifest").
		WithContext("mod_id", id).
		WithContext("want", want).
		WithContext("got", got)
}

// Filesystem errors.

// PathTraversalDetected indicates an archive entry escapes the extraction
// root. Always fatal for that archive, never retried.
func PathTraversalDetected(entry string) *LauncherError {
	return New(CategoryFilesystem, SeverityError, "archive entry escapes target directory").
		WithContext("entry", entry)
}

// PermissionDenied indicates the target or staging area is not writable.
func PermissionDenied(path string, cause error) *LauncherError {
	return Wrap(cause, CategoryFilesystem, SeverityError, "permission denied").
		WithContext("path", path)
}

// DiskFull indicates the volume ran out of space mid-transaction.
func DiskFull(path string, cause error) *LauncherError {
	return Wrap(cause, CategoryFilesystem, SeverityError, "no space left on device").
		WithContext("path", path)
}

// FilesystemIO wraps any other I/O failure during a transaction.
func FilesystemIO(path string, cause error) *LauncherError {
	return Wrap(cause, CategoryFilesystem, SeverityError, "filesystem operation failed").
		WithContext("path", path)
}

// State errors.

// StateCorrupt indicates the state file could not be parsed. Callers downgrade
// this to an empty state; it is never fatal on load.
func StateCorrupt(path string, cause error) *LauncherError {
	return Wrap(cause, CategoryState, SeverityWarning, "state file is corrupt").
		WithContext("path", path)
}

// StateUnwritable indicates the state file could not be persisted.
func StateUnwritable(path string, cause error) *LauncherError {
	return Wrap(cause, CategoryState, SeverityError, "state file could not be written").
		WithContext("path", path).
		WithRetryable(true)
}
