package buffer

// DefaultFillSize is how much spare capacity Fill guarantees when the
// sink holds no pending fill already in progress.
const DefaultFillSize = 4096

// Sink is an accumulating receive buffer: a transport calls Fill to
// get a destination for the next physical read, Commit once that read
// completes, and callers waiting on a fixed byte count call Consume
// once enough data has accumulated. It is the Go shape of Transport's
// receivedDataSink_, used to decouple "how many bytes are available"
// from "how many bytes were physically read this time".
type Sink struct {
	buf     []byte // committed bytes, always buf[:avail]
	avail   int
	filling bool
}

// NewSink returns an empty Sink.
func NewSink() *Sink { return &Sink{} }

// Len reports how many committed bytes are currently buffered.
func (s *Sink) Len() int { return s.avail }

// Fill returns a destination slice for the next physical read. It
// must not be called again until the in-flight read either commits or
// is abandoned; this mirrors Transport's single-outstanding-read
// invariant on a receiveStrand_.
func (s *Sink) Fill() MutView {
	s.filling = true
	need := s.avail + DefaultFillSize
	if cap(s.buf) < need {
		grown := make([]byte, len(s.buf), need)
		copy(grown, s.buf)
		s.buf = grown
	}
	s.buf = s.buf[:cap(s.buf)]
	return NewMutView(s.buf, s.avail)
}

// Commit records that n bytes were physically written into the slice
// returned by the most recent Fill.
func (s *Sink) Commit(n int) {
	s.filling = false
	s.avail += n
	s.buf = s.buf[:s.avail]
}

// Consume removes and returns the first n committed bytes, sliding any
// remainder to the front of the buffer. Panics if n exceeds Len; the
// caller (distributeReceivedData's Go equivalent) always checks Len
// first.
func (s *Sink) Consume(n int) Data {
	if n > s.avail {
		panic("buffer: Consume beyond available data")
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])

	remaining := s.avail - n
	copy(s.buf[:remaining], s.buf[n:s.avail])
	s.avail = remaining
	s.buf = s.buf[:s.avail]

	return NewData(out)
}
