// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face session constants
const (
	// DefaultMatchThreshold is the minimum similarity in [0,1] to accept an identity match
	DefaultMatchThreshold = 0.6

	// DefaultSearchTopK is the number of candidates requested from the identity store
	DefaultSearchTopK = 1

	// DefaultListLimit is the default number of identities returned by list endpoints
	DefaultListLimit = 1000
)

// Stream constants
const (
	// StreamBoundary is the multipart boundary used by the MJPEG stream
	StreamBoundary = "frame"

	// DefaultJPEGQuality is the JPEG quality for streamed and cropped frames
	DefaultJPEGQuality = 85

	// FaceLabel is drawn above a detected face that is not recognized
	FaceLabel = "Face"
)

// Chat constants
const (
	// DefaultHistoryLimit is the default number of chat turns returned by the history endpoint
	DefaultHistoryLimit = 50

	// DefaultChatSession is used when a chat request carries no session id
	DefaultChatSession = "default"
)
