package store

import (
	"errors"
	"io"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap("sqlite", "insert", nil) != nil {
		t.Error("nil error should stay nil")
	}
	err := Wrap("sqlite", "insert", io.ErrUnexpectedEOF)
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "insert" {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause should unwrap")
	}
	if err.Error() != "sqlite insert: unexpected EOF" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
