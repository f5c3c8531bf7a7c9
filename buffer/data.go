// Package buffer provides the owned byte-vector and bounds-checked view
// types used throughout the transport and framing layers.
package buffer

// Data is an owned, growable sequence of bytes.
type Data struct {
	b []byte
}

// NewData wraps an existing byte slice without copying it.
func NewData(b []byte) Data {
	return Data{b: b}
}

// MakeData allocates a new zero-filled Data of length n.
func MakeData(n int) Data {
	return Data{b: make([]byte, n)}
}

// Len returns the number of bytes held.
func (d Data) Len() int { return len(d.b) }

// Bytes returns the underlying slice. Callers must not retain it past
// the Data's next mutation if they need a stable snapshot.
func (d Data) Bytes() []byte { return d.b }

// Append returns a new Data with p appended.
func (d Data) Append(p []byte) Data {
	return Data{b: append(d.b, p...)}
}

// View returns a read-only view over the whole buffer.
func (d Data) View() View { return View{b: d.b} }

// View is a non-owning, bounds-checked read-only slice of bytes.
//
// Constructing a View with an offset beyond the underlying length
// yields an empty view rather than an error or panic, matching the
// "offset collapses to empty" contract required of buffer primitives.
type View struct {
	b []byte
}

// NewView constructs a View over b starting at offset.
func NewView(b []byte, offset int) View {
	if offset < 0 || offset >= len(b) {
		return View{}
	}
	return View{b: b[offset:]}
}

// NewViewRange constructs a View over b[offset:offset+length], clamping
// length down to whatever remains after offset.
func NewViewRange(b []byte, offset, length int) View {
	v := NewView(b, offset)
	if length < 0 || length > len(v.b) {
		length = len(v.b)
	}
	return View{b: v.b[:length]}
}

// Len returns the number of bytes in the view.
func (v View) Len() int { return len(v.b) }

// Bytes returns the view's bytes.
func (v View) Bytes() []byte { return v.b }

// Slice returns a sub-view [off, off+n). An out-of-range offset
// collapses to empty, per the same contract as NewView.
func (v View) Slice(off, n int) View {
	return NewViewRange(v.b, off, n)
}

// MutView is a non-owning, bounds-checked mutable slice of bytes.
type MutView struct {
	b []byte
}

// NewMutView constructs a MutView over b starting at offset.
func NewMutView(b []byte, offset int) MutView {
	if offset < 0 || offset >= len(b) {
		return MutView{}
	}
	return MutView{b: b[offset:]}
}

// Len returns the number of bytes in the view.
func (v MutView) Len() int { return len(v.b) }

// Bytes returns the view's bytes, mutable by the caller.
func (v MutView) Bytes() []byte { return v.b }
