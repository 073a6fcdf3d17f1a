// Package pipeline provides the bounded producer/consumer machinery
// between frame capture and encoding: a frame queue with byte and count
// budgets, and a backpressure governor that slows capture when the
// process is under memory or CPU pressure.
package pipeline

// Frame is one captured video frame, PNG-encoded, tagged with its index
// within the segment and its presentation timestamp in seconds.
type Frame struct {
	Index int
	PTS   float64
	Data  []byte
}

// Size returns the encoded byte size of the frame.
func (f Frame) Size() int { return len(f.Data) }
