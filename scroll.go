package humy

const (
	// LoadOlderThreshold is how close to the top, in pixels, the viewport
	// must be before older history is requested.
	LoadOlderThreshold = 60.0
	// NearBottomThreshold is how close to the bottom counts as "following"
	// the conversation.
	NearBottomThreshold = 80.0
)

// ScrollAnchor remembers the viewport before content is prepended.
type ScrollAnchor struct {
	Top    float64
	Height float64
}

// CaptureAnchor records the scroll offset and content height.
func CaptureAnchor(scrollTop, contentHeight float64) ScrollAnchor {
	return ScrollAnchor{Top: scrollTop, Height: contentHeight}
}

// Restore returns the scroll offset that keeps the previously topmost item
// in place once the content has grown to newHeight.
func (a ScrollAnchor) Restore(newHeight float64) float64 {
	return a.Top + (newHeight - a.Height)
}

// ShouldLoadOlder reports whether the viewport is close enough to the top
// to request the previous page.
func ShouldLoadOlder(scrollTop float64) bool {
	return scrollTop < LoadOlderThreshold
}

// NearBottom reports whether the viewport is close enough to the end that
// new messages should scroll into view.
func NearBottom(scrollTop, contentHeight, viewportHeight float64) bool {
	return contentHeight-scrollTop-viewportHeight < NearBottomThreshold
}
