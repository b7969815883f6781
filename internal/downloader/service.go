package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"media-downloader/internal/platform/metrics"

	"github.com/google/uuid"
)

// AlertFunc mirrors backend failures to an operator channel. Optional.
type AlertFunc func(owner Identity, url string, err error)

// DefaultSessionTTL bounds how long an abandoned session (never selected, or
// parked on a fallback offer) keeps its store entry and scratch artifacts.
const DefaultSessionTTL = time.Hour

// OrchestratorConfig wires the orchestrator's collaborators. Metrics and
// Alert may be nil.
type OrchestratorConfig struct {
	Sessions   *SessionStore
	Limiter    *RateLimiter
	Extractor  Extractor
	Segmenter  Segmenter
	Deliverer  Deliverer
	History    *Recorder
	Policy     SizeFallbackPolicy
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Alert      AlertFunc
	TempRoot   string
	SessionTTL time.Duration
}

// Orchestrator drives the per-session download state machine: discovery,
// selection, fetch, size check, then delivery or fallback. Each session's
// fetch and split work runs on its own goroutine; operations on one token
// are strictly sequential while distinct tokens proceed in parallel.
type Orchestrator struct {
	sessions   *SessionStore
	limiter    *RateLimiter
	ext        Extractor
	catalog    *FormatCatalog
	splitter   *Splitter
	deliver    Deliverer
	history    *Recorder
	policy     SizeFallbackPolicy
	log        *slog.Logger
	met        *metrics.Metrics
	alert      AlertFunc
	tempRoot   string
	sessionTTL time.Duration
}

// NewOrchestrator returns an orchestrator built from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	tempRoot := cfg.TempRoot
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Orchestrator{
		sessions:   cfg.Sessions,
		limiter:    cfg.Limiter,
		ext:        cfg.Extractor,
		catalog:    NewFormatCatalog(cfg.Extractor, cfg.Logger),
		splitter:   NewSplitter(cfg.Segmenter, cfg.Deliverer, cfg.Logger),
		deliver:    cfg.Deliverer,
		history:    cfg.History,
		policy:     cfg.Policy,
		log:        cfg.Logger,
		met:        cfg.Metrics,
		alert:      cfg.Alert,
		tempRoot:   tempRoot,
		sessionTTL: sessionTTL,
	}
}

// Submit validates and admits a URL, opens a session, and runs format
// discovery. On success the session is in AwaitingSelection and is returned
// for the transport layer to render. Discovery failure discards the session
// immediately; it is not retried and leaves no history entry.
func (o *Orchestrator) Submit(ctx context.Context, owner Identity, rawURL string) (*Session, error) {
	if !SupportedURL(rawURL) {
		return nil, ErrInvalidURL
	}
	if !o.limiter.Admit(owner) {
		if o.met != nil {
			o.met.IncRateLimited()
		}
		return nil, ErrRateLimited
	}

	o.history.Audit(ctx, owner, rawURL)

	token := Token(uuid.NewString())
	tmpDir := filepath.Join(o.tempRoot, "session-"+string(token))
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session scratch dir: %w", err)
	}

	sess := newSession(token, owner, rawURL, tmpDir)
	if err := o.sessions.Create(sess); err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	if o.met != nil {
		o.met.IncSubmissions()
	}

	info, renditions, err := o.catalog.Discover(ctx, token, rawURL)
	if err != nil {
		sess.transition(StatusFailed)
		o.sessions.Delete(token)
		os.RemoveAll(tmpDir)
		o.log.Warn("format discovery failed",
			slog.String("token", string(token)),
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
		o.history.RecordError(ctx, owner, rawURL, err.Error())
		o.notifyOperator(owner, rawURL, err)
		return nil, err
	}

	sess.setDiscovered(info.Title, info.DurationSeconds, renditions)
	sess.transition(StatusAwaitingSelection)
	o.log.Info("session opened",
		slog.String("token", string(token)),
		slog.String("owner", string(owner)),
		slog.String("platform", string(sess.platform)),
		slog.Int("renditions", len(renditions)))
	return sess, nil
}

// Renditions returns the selectable renditions for a live session token.
func (o *Orchestrator) Renditions(token Token) ([]Rendition, error) {
	sess, ok := o.sessions.Get(token)
	if !ok {
		return nil, ErrSessionExpired
	}
	return sess.Renditions(), nil
}

// Select starts the fetch for the chosen rendition and returns the outcome
// stream. The stream ends with a terminal status event, or with an
// awaiting_choice event when the video exceeds the transport limit (the
// session then stays live for Fallback).
func (o *Orchestrator) Select(ctx context.Context, owner Identity, token Token, formatID string) (<-chan Event, error) {
	sess, ok := o.sessions.Get(token)
	if !ok || sess.owner != owner {
		return nil, ErrSessionExpired
	}
	ren, ok := sess.findRendition(formatID)
	if !ok {
		return nil, ErrUnknownFormat
	}
	if !sess.setRunning(true) {
		return nil, ErrSelectionInProgress
	}
	if !sess.transition(StatusFetching) {
		sess.setRunning(false)
		return nil, ErrSelectionInProgress
	}

	ch := make(chan Event, 8)
	go o.runFetch(sess, ren, ch)
	return ch, nil
}

// runFetch executes Fetching and whatever follows it for one selection.
// Cancellation is observed cooperatively at the checkpoints between blocking
// backend calls.
func (o *Orchestrator) runFetch(sess *Session, ren Rendition, ch chan Event) {
	defer close(ch)
	defer sess.setRunning(false)

	emit(ch, Event{Kind: EventStatus, Status: StatusFetching})
	if sess.cancelled() {
		o.finish(sess, ch, StatusCancelled, &ren, "download cancelled")
		return
	}

	path, err := o.ext.Fetch(sess.ctx, sess.sourceURL, ren.FormatID, ren.Kind, sess.tmpDir)
	if sess.cancelled() {
		o.finish(sess, ch, StatusCancelled, &ren, "download cancelled")
		return
	}
	if err != nil {
		o.fail(sess, ch, &ren, fmt.Errorf("%w: %v", ErrFetchFailed, err))
		return
	}

	st, err := os.Stat(path)
	if err != nil {
		o.fail(sess, ch, &ren, fmt.Errorf("%w: %s", ErrArtifactMissing, path))
		return
	}
	size := st.Size()
	limit := o.policy.LimitFor(ren.Kind)

	switch o.policy.Decide(size, limit, ren.Kind) {
	case DecisionDeliver:
		sess.transition(StatusDelivering)
		emit(ch, Event{Kind: EventStatus, Status: StatusDelivering, SizeBytes: size})
		if err := o.deliver.DeliverFile(sess.ctx, sess.token, path, sess.Title()); err != nil {
			if sess.cancelled() {
				o.finish(sess, ch, StatusCancelled, &ren, "download cancelled")
				return
			}
			o.fail(sess, ch, &ren, fmt.Errorf("%w: delivery: %v", ErrFetchFailed, err))
			return
		}
		o.finish(sess, ch, StatusCompleted, &ren, "download complete")

	case DecisionTooLarge:
		msg := fmt.Sprintf("%s size (%.2f MB) exceeds the %.0f MB limit; nothing was sent",
			ren.Kind, megabytes(size), megabytes(limit))
		if err := o.deliver.Notify(sess.ctx, sess.token, msg); err != nil {
			o.log.Warn("too-large notice failed", slog.String("token", string(sess.token)), slog.String("error", err.Error()))
		}
		emit(ch, Event{Kind: EventNotice, Message: msg, SizeBytes: size})
		o.finish(sess, ch, StatusCompleted, &ren, msg)

	case DecisionOfferFallback:
		sess.setPending(&pendingFallback{path: path, sizeBytes: size, formatID: ren.FormatID, label: ren.Label})
		emit(ch, Event{
			Kind:      EventChoice,
			Message:   fmt.Sprintf("video size (%.2f MB) exceeds the %.0f MB limit", megabytes(size), megabytes(limit)),
			SizeBytes: size,
			Options:   FallbackChoices,
		})
		// Stream ends without a terminal status; the session waits in
		// Fetching for the fallback choice.
	}
}

// Fallback resolves a pending oversize-video offer with the user's choice
// and returns the outcome stream for the remainder of the session.
func (o *Orchestrator) Fallback(ctx context.Context, owner Identity, token Token, choice FallbackChoice) (<-chan Event, error) {
	sess, ok := o.sessions.Get(token)
	if !ok || sess.owner != owner {
		return nil, ErrSessionExpired
	}
	if choice != ChoiceDirectLink && choice != ChoiceSplit {
		return nil, fmt.Errorf("%w: unknown choice %q", ErrNoPendingChoice, choice)
	}
	if !sess.hasPending() {
		return nil, ErrNoPendingChoice
	}
	if !sess.setRunning(true) {
		return nil, ErrSelectionInProgress
	}
	pending := sess.takePending()
	if pending == nil {
		sess.setRunning(false)
		return nil, ErrNoPendingChoice
	}

	ch := make(chan Event, 8)
	go o.runFallback(sess, pending, choice, ch)
	return ch, nil
}

func (o *Orchestrator) runFallback(sess *Session, pending *pendingFallback, choice FallbackChoice, ch chan Event) {
	defer close(ch)
	defer sess.setRunning(false)

	ren := Rendition{FormatID: pending.formatID, Label: pending.label, Kind: MediaVideo}
	if sess.cancelled() {
		os.Remove(pending.path)
		o.finish(sess, ch, StatusCancelled, &ren, "download cancelled")
		return
	}

	switch choice {
	case ChoiceDirectLink:
		link, err := o.ext.DirectLink(sess.ctx, sess.sourceURL, pending.formatID)
		os.Remove(pending.path)
		if sess.cancelled() {
			o.finish(sess, ch, StatusCancelled, &ren, "download cancelled")
			return
		}
		if err != nil {
			o.fail(sess, ch, &ren, fmt.Errorf("%w: resolve direct link: %v", ErrFetchFailed, err))
			return
		}
		if err := o.deliver.DeliverLink(sess.ctx, sess.token, link); err != nil {
			o.fail(sess, ch, &ren, fmt.Errorf("%w: deliver link: %v", ErrFetchFailed, err))
			return
		}
		emit(ch, Event{Kind: EventLink, URL: link})
		o.finish(sess, ch, StatusCompleted, &ren, "direct link sent")

	case ChoiceSplit:
		sess.transition(StatusSplitting)
		emit(ch, Event{Kind: EventStatus, Status: StatusSplitting})
		if o.met != nil {
			o.met.IncSplits()
		}
		res, err := o.splitter.Split(sess.ctx, sess.token, pending.path, o.policy.VideoLimitBytes)
		if err != nil {
			if sess.cancelled() || errors.Is(err, context.Canceled) {
				o.finish(sess, ch, StatusCancelled, &ren,
					fmt.Sprintf("cancelled after %d of %d parts", res.Sent, res.Parts))
				return
			}
			o.fail(sess, ch, &ren, err)
			return
		}
		o.finish(sess, ch, StatusCompleted, &ren, fmt.Sprintf("%d parts sent", res.Sent))
	}
}

// Cancel requests cancellation for a session. Idempotent; unknown tokens
// are acknowledged silently. When no state-machine goroutine is active the
// session is finalized here, otherwise the flag is honored at the running
// goroutine's next checkpoint.
func (o *Orchestrator) Cancel(token Token) {
	sess, ok := o.sessions.Get(token)
	if !ok {
		return
	}
	sess.requestCancel()

	if !sess.setRunning(true) {
		return
	}
	pending := sess.takePending()
	if pending != nil {
		os.Remove(pending.path)
		ren := Rendition{FormatID: pending.formatID, Label: pending.label, Kind: MediaVideo}
		o.finish(sess, nil, StatusCancelled, &ren, "")
	} else {
		o.finish(sess, nil, StatusCancelled, nil, "")
	}
	sess.setRunning(false)
}

// ReapExpired finalizes idle sessions past the TTL: entries never selected,
// or parked on a fallback offer, that would otherwise hold their store slot
// and scratch artifacts forever. Sessions with an active state-machine
// goroutine are left alone. Returns the number of sessions reaped.
func (o *Orchestrator) ReapExpired() int {
	cutoff := time.Now().Add(-o.sessionTTL)
	var reaped int
	for _, sess := range o.sessions.CreatedBefore(cutoff) {
		if !sess.setRunning(true) {
			continue
		}
		sess.requestCancel()
		if pending := sess.takePending(); pending != nil {
			os.Remove(pending.path)
			ren := Rendition{FormatID: pending.formatID, Label: pending.label, Kind: MediaVideo}
			o.finish(sess, nil, StatusCancelled, &ren, "")
		} else {
			o.finish(sess, nil, StatusCancelled, nil, "")
		}
		sess.setRunning(false)
		o.log.Info("idle session reaped",
			slog.String("token", string(sess.token)),
			slog.String("owner", string(sess.owner)))
		reaped++
	}
	return reaped
}

// RunReaper calls ReapExpired on the given interval until ctx is cancelled.
func (o *Orchestrator) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ReapExpired()
		}
	}
}

// fail converts an error into a terminal Failed status with a redacted
// user-facing message, mirroring the detail to the log and the operator
// channel.
func (o *Orchestrator) fail(sess *Session, ch chan Event, ren *Rendition, err error) {
	o.log.Error("session failed",
		slog.String("token", string(sess.token)),
		slog.String("url", sess.sourceURL),
		slog.String("error", err.Error()))
	o.history.RecordError(context.Background(), sess.owner, sess.sourceURL, err.Error())
	o.notifyOperator(sess.owner, sess.sourceURL, err)
	if nerr := o.deliver.Notify(context.Background(), sess.token, userMessage(err)); nerr != nil {
		o.log.Warn("failure notice undelivered", slog.String("token", string(sess.token)), slog.String("error", nerr.Error()))
	}
	o.finish(sess, ch, StatusFailed, ren, userMessage(err))
}

// finish applies the terminal transition, records history for user-visible
// selections, releases the session's scratch space, and removes the session
// entry. It runs exactly once per session on every exit path.
func (o *Orchestrator) finish(sess *Session, ch chan Event, terminal Status, ren *Rendition, msg string) {
	sess.transition(terminal)
	os.RemoveAll(sess.tmpDir)
	o.sessions.Delete(sess.token)

	if ren != nil {
		// Session context may already be cancelled; history writes are
		// best-effort and use a fresh context.
		o.history.Record(context.Background(), HistoryEntry{
			Owner:       sess.owner,
			URL:         sess.sourceURL,
			FormatLabel: ren.Label,
			Kind:        ren.Kind,
			Platform:    sess.platform,
			Timestamp:   time.Now().UTC(),
		})
	}

	if o.met != nil {
		switch terminal {
		case StatusCompleted:
			o.met.IncCompleted()
		case StatusFailed:
			o.met.IncFailed()
		case StatusCancelled:
			o.met.IncCancelled()
		}
	}

	emit(ch, Event{Kind: EventStatus, Status: terminal, Message: msg})
	o.log.Info("session finished",
		slog.String("token", string(sess.token)),
		slog.String("status", string(terminal)))
}

func (o *Orchestrator) notifyOperator(owner Identity, url string, err error) {
	if o.alert != nil {
		o.alert(owner, url, err)
	}
}

// userMessage maps an internal error to the redacted text shown to the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrSplitFailed):
		return "Splitting failed; some parts may already have been sent. Try a direct link instead."
	case errors.Is(err, ErrArtifactMissing):
		return "Download failed: no output was produced. Try a different quality or URL."
	case errors.Is(err, ErrFetchFailed):
		return "Download failed. Try a lower quality or a different platform."
	case errors.Is(err, ErrDiscoveryFailed):
		return "No downloadable formats found. Try a different or public URL."
	default:
		return "Something went wrong. Please try again."
	}
}

func megabytes(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
