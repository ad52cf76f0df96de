package output

import (
	"fmt"
	"io"
)

// flush pushes bytes held by a buffering writer (bufio.Writer, colorable
// wrappers) through to the destination so each event is visible as soon as it
// is written. Unbuffered writers are left alone.
func flush(w io.Writer) error {
	b, ok := w.(interface{ Flush() error })
	if !ok {
		return nil
	}
	if err := b.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
