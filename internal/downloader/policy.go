package downloader

// Transport size limit defaults, in bytes: 50 MB for video and audio, 10 MB
// for images.
const (
	DefaultVideoLimitBytes = 50 * 1024 * 1024
	DefaultAudioLimitBytes = 50 * 1024 * 1024
	DefaultImageLimitBytes = 10 * 1024 * 1024
)

// Decision is the outcome of evaluating an artifact against its transport
// limit.
type Decision string

const (
	// DecisionDeliver sends the artifact inline.
	DecisionDeliver Decision = "deliver"
	// DecisionOfferFallback offers the user a direct link or a split; the
	// design does not auto-pick between them.
	DecisionOfferFallback Decision = "offer_fallback"
	// DecisionTooLarge notifies the user and sends nothing. A policy
	// outcome, not a failure.
	DecisionTooLarge Decision = "too_large"
)

// FallbackChoice is the user's answer to a fallback offer.
type FallbackChoice string

const (
	ChoiceDirectLink FallbackChoice = "link"
	ChoiceSplit      FallbackChoice = "split"
)

// FallbackChoices lists the options presented with a fallback offer.
var FallbackChoices = []FallbackChoice{ChoiceDirectLink, ChoiceSplit}

// SizeFallbackPolicy decides how a fetched artifact is delivered given its
// size and the per-kind transport limits.
type SizeFallbackPolicy struct {
	VideoLimitBytes int64
	AudioLimitBytes int64
	ImageLimitBytes int64
}

// DefaultSizePolicy returns the policy with the default transport limits.
func DefaultSizePolicy() SizeFallbackPolicy {
	return SizeFallbackPolicy{
		VideoLimitBytes: DefaultVideoLimitBytes,
		AudioLimitBytes: DefaultAudioLimitBytes,
		ImageLimitBytes: DefaultImageLimitBytes,
	}
}

// LimitFor returns the transport limit for the given media kind.
func (p SizeFallbackPolicy) LimitFor(kind MediaKind) int64 {
	switch kind {
	case MediaImage:
		return p.ImageLimitBytes
	case MediaAudio:
		return p.AudioLimitBytes
	default:
		return p.VideoLimitBytes
	}
}

// Decide evaluates an artifact of sizeBytes against limitBytes. Artifacts at
// or under the limit are delivered inline for every kind. Over the limit,
// video gets the fallback offer; audio and images are never split and get
// the too-large notice.
func (p SizeFallbackPolicy) Decide(sizeBytes, limitBytes int64, kind MediaKind) Decision {
	if sizeBytes <= limitBytes {
		return DecisionDeliver
	}
	if kind == MediaVideo {
		return DecisionOfferFallback
	}
	return DecisionTooLarge
}
