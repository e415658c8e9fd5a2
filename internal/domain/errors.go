package domain

import "errors"

// Adapter errors - 儲存適配器層錯誤
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")

	// ErrDirectoryNotEmpty indicates a non-recursive delete hit a populated directory
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrQuotaExceeded indicates storage quota has been exceeded
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNetworkError indicates a network-related failure
	ErrNetworkError = errors.New("network error")

	// ErrTimeout indicates operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrNotAuthenticated indicates a remote needs credentials that are missing or expired
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Sync errors - 同步邏輯層錯誤
var (
	// ErrSyncConflict indicates checked items still carry unresolved conflicts
	ErrSyncConflict = errors.New("sync conflict")

	// ErrSyncInProgress indicates another sync already holds the publication
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidPhase indicates an operation was invoked in the wrong session phase
	ErrInvalidPhase = errors.New("operation not allowed in current phase")

	// ErrNoConflict indicates a resolution was requested for an item without a conflict
	ErrNoConflict = errors.New("item has no conflict")

	// ErrItemNotFound indicates the path is not part of the working set
	ErrItemNotFound = errors.New("item not in working set")

	// ErrAborted indicates the operation was stopped before completing
	ErrAborted = errors.New("aborted")
)

// Override errors - 強制覆寫略過原因
var (
	// ErrForceIgnored is the parent of every documented force no-op
	ErrForceIgnored = errors.New("force override ignored")

	// ErrAlreadyUpload indicates the item is already an upload action
	ErrAlreadyUpload = wrapForce("item is already an upload")

	// ErrNothingToUpload indicates no local content exists to upload
	ErrNothingToUpload = wrapForce("nothing exists locally to upload")

	// ErrAlreadyDownload indicates the item is already a download action
	ErrAlreadyDownload = wrapForce("item is already a download")

	// ErrNothingToDownload indicates no remote content exists to download
	ErrNothingToDownload = wrapForce("nothing exists remotely to download")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrPublicationNotFound indicates referenced publication doesn't exist
	ErrPublicationNotFound = errors.New("publication not found")

	// ErrTransportNotFound indicates referenced transport doesn't exist
	ErrTransportNotFound = errors.New("transport not found")
)

type forceError struct {
	msg string
}

func wrapForce(msg string) error { return &forceError{msg: msg} }

func (e *forceError) Error() string { return e.msg }

func (e *forceError) Unwrap() error { return ErrForceIgnored }
