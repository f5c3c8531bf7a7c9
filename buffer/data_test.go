package buffer

import "testing"

func TestViewOffsetEqualsLenIsEmpty(t *testing.T) {
	v := NewView([]byte("hello"), 5)
	if v.Len() != 0 {
		t.Fatalf("expected empty view, got len %d", v.Len())
	}
}

func TestViewOffsetBeyondLenIsEmpty(t *testing.T) {
	v := NewView([]byte("hi"), 99)
	if v.Len() != 0 {
		t.Fatalf("expected empty view, got len %d", v.Len())
	}
}

func TestViewRangeClampsLength(t *testing.T) {
	v := NewViewRange([]byte("abcdef"), 2, 100)
	if string(v.Bytes()) != "cdef" {
		t.Fatalf("got %q", v.Bytes())
	}
}

func TestDataAppend(t *testing.T) {
	d := NewData([]byte("ab"))
	d2 := d.Append([]byte("cd"))
	if string(d2.Bytes()) != "abcd" {
		t.Fatalf("got %q", d2.Bytes())
	}
}

func TestMutViewOutOfRangeIsEmpty(t *testing.T) {
	v := NewMutView([]byte("ab"), 10)
	if v.Len() != 0 {
		t.Fatalf("expected empty view, got len %d", v.Len())
	}
}
