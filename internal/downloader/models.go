package downloader

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Token uniquely identifies one in-flight download session.
type Token string

// Identity is the stable unique identifier of a requesting user.
type Identity string

// MediaKind classifies what the user asked to download.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
)

// Platform is the source platform derived from the submitted URL.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformTikTok    Platform = "tiktok"
	PlatformVimeo     Platform = "vimeo"
	PlatformUnknown   Platform = "unknown"
)

// platformHosts maps a host substring to its platform classification.
var platformHosts = []struct {
	match    string
	platform Platform
}{
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"instagram.com", PlatformInstagram},
	{"twitter.com", PlatformTwitter},
	{"x.com", PlatformTwitter},
	{"tiktok.com", PlatformTikTok},
	{"vimeo.com", PlatformVimeo},
}

// PlatformFor classifies a URL by its host. Unrecognized hosts return
// PlatformUnknown.
func PlatformFor(rawURL string) Platform {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range platformHosts {
		if host == p.match || strings.HasSuffix(host, "."+p.match) {
			return p.platform
		}
	}
	return PlatformUnknown
}

// SupportedURL reports whether the URL uses http(s) and points at one of the
// supported platforms.
func SupportedURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return PlatformFor(rawURL) != PlatformUnknown
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated           Status = "Created"
	StatusAwaitingSelection Status = "AwaitingSelection"
	StatusFetching          Status = "Fetching"
	StatusDelivering        Status = "Delivering"
	StatusSplitting         Status = "Splitting"
	StatusCancelled         Status = "Cancelled"
	StatusCompleted         Status = "Completed"
	StatusFailed            Status = "Failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// validTransitions enumerates the allowed forward edges of the state machine.
// Terminal statuses have no outgoing edges; nothing transitions back to Created.
var validTransitions = map[Status][]Status{
	StatusCreated:           {StatusAwaitingSelection, StatusFailed, StatusCancelled},
	StatusAwaitingSelection: {StatusFetching, StatusCancelled, StatusFailed},
	StatusFetching:          {StatusDelivering, StatusSplitting, StatusCompleted, StatusCancelled, StatusFailed},
	StatusDelivering:        {StatusCompleted, StatusCancelled, StatusFailed},
	StatusSplitting:         {StatusCompleted, StatusCancelled, StatusFailed},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Rendition is one selectable quality/format option. EstimatedSizeBytes is
// zero when the backend does not report a size.
type Rendition struct {
	FormatID           string    `json:"format_id"`
	Label              string    `json:"label"`
	Kind               MediaKind `json:"kind"`
	EstimatedSizeBytes int64     `json:"estimated_size_bytes,omitempty"`
}

// RawRendition is one backend-reported format entry before normalization.
type RawRendition struct {
	FormatID      string
	Resolution    string
	Ext           string
	HasVideo      bool
	URL           string
	FilesizeBytes int64
	Kind          MediaKind
}

// MediaInfo is the raw discovery result from the extraction backend.
type MediaInfo struct {
	Title           string
	DurationSeconds int
	Renditions      []RawRendition
}

// HistoryEntry is an immutable record of one completed selection.
type HistoryEntry struct {
	Owner       Identity  `json:"owner_id"`
	URL         string    `json:"url"`
	FormatLabel string    `json:"format_label"`
	Kind        MediaKind `json:"kind"`
	Platform    Platform  `json:"platform"`
	Timestamp   time.Time `json:"timestamp"`
}

// pendingFallback holds the fetched artifact kept on disk while the user
// chooses between a direct link and splitting.
type pendingFallback struct {
	path      string
	sizeBytes int64
	formatID  string
	label     string
}

// Session tracks one user-initiated media request in flight. All mutable
// fields are guarded by mu; the cancel flag is additionally mirrored through
// ctx so blocking backend calls unwind early.
type Session struct {
	mu sync.Mutex

	token     Token
	owner     Identity
	sourceURL string
	platform  Platform
	createdAt time.Time

	title           string
	durationSeconds int
	renditions      []Rendition

	status          Status
	cancelRequested bool
	running         bool
	pending         *pendingFallback

	tmpDir string
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(token Token, owner Identity, sourceURL string, tmpDir string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		token:     token,
		owner:     owner,
		sourceURL: sourceURL,
		platform:  PlatformFor(sourceURL),
		createdAt: time.Now().UTC(),
		status:    StatusCreated,
		tmpDir:    tmpDir,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Token returns the session's opaque identifier.
func (s *Session) Token() Token { return s.token }

// Owner returns the requesting identity.
func (s *Session) Owner() Identity { return s.owner }

// SourceURL returns the submitted URL.
func (s *Session) SourceURL() string { return s.sourceURL }

// Platform returns the platform classification of the source URL.
func (s *Session) Platform() Platform { return s.platform }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Title returns the media title reported by discovery.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// DurationSeconds returns the media duration reported by discovery.
func (s *Session) DurationSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationSeconds
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Renditions returns a copy of the selectable renditions.
func (s *Session) Renditions() []Rendition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rendition, len(s.renditions))
	copy(out, s.renditions)
	return out
}

// Context returns the session-scoped context, cancelled when cancellation is
// requested.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) setDiscovered(title string, durationSeconds int, renditions []Rendition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.durationSeconds = durationSeconds
	s.renditions = renditions
}

// transition moves the session to the given status if the state machine
// allows it. It returns false otherwise; statuses never move backwards.
func (s *Session) transition(to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status, to) {
		return false
	}
	s.status = to
	return true
}

// requestCancel marks the session cancelled. Idempotent; the flag is never
// reset.
func (s *Session) requestCancel() {
	s.mu.Lock()
	s.cancelRequested = true
	s.mu.Unlock()
	s.cancel()
}

// cancelled reports whether cancellation has been requested.
func (s *Session) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// setRunning marks whether a state-machine goroutine currently owns the
// session. It returns false if the session is already running, enforcing
// strictly sequential operations per token.
func (s *Session) setRunning(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v && s.running {
		return false
	}
	s.running = v
	return true
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) setPending(p *pendingFallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = p
}

// takePending returns and clears the pending fallback record, so the choice
// is acted on at most once.
func (s *Session) takePending() *pendingFallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

func (s *Session) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// findRendition looks up a rendition by format id.
func (s *Session) findRendition(formatID string) (Rendition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.renditions {
		if r.FormatID == formatID {
			return r, true
		}
	}
	return Rendition{}, false
}
