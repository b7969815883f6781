package downloader

import "errors"

var (
	// ErrRateLimited is returned when an identity exceeds its admission
	// window. The user retries later.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidURL is returned for malformed URLs or unsupported platforms.
	ErrInvalidURL = errors.New("unsupported or malformed URL")

	// ErrSessionExpired is returned when a token does not reference a live
	// session. The user resubmits the URL.
	ErrSessionExpired = errors.New("session expired")

	// ErrDiscoveryFailed is returned when the extraction backend could not
	// enumerate any downloadable formats. Not retried.
	ErrDiscoveryFailed = errors.New("format discovery failed")

	// ErrFetchFailed is returned when the extraction backend could not
	// retrieve the artifact bytes.
	ErrFetchFailed = errors.New("download failed")

	// ErrArtifactMissing is returned when a fetch reported success but no
	// output file was found. Treated as a fetch failure.
	ErrArtifactMissing = errors.New("artifact not found after download")

	// ErrSplitFailed is returned on partial or total failure during
	// chunking. Chunks already delivered are not revoked.
	ErrSplitFailed = errors.New("split failed")

	// ErrUnknownFormat is returned when a selection names a format id the
	// session's catalog does not contain.
	ErrUnknownFormat = errors.New("unknown format id")

	// ErrSelectionInProgress is returned when an operation arrives while the
	// session's state machine is already running or past selection.
	ErrSelectionInProgress = errors.New("operation already in progress for this session")

	// ErrNoPendingChoice is returned when a fallback choice arrives for a
	// session with no oversize artifact awaiting one.
	ErrNoPendingChoice = errors.New("no fallback choice pending")
)
