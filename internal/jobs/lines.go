package jobs

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// maxLineLength bounds one line of tool output or scratch file. Longer
// lines cannot be a handshake, identifier, cracked pair or status record
// and are skipped.
const maxLineLength = 64 * 1024

// eachLine calls fn with every line of r, without the line ending. A line
// longer than maxLen is skipped and reading carries on with the next one.
// Only a read error or an error from fn stops it.
func eachLine(r io.Reader, maxLen int, fn func(line string) error) error {
	br := bufio.NewReader(r)
	var buf []byte
	skipping := false

	for {
		chunk, err := br.ReadSlice('\n')
		if !skipping {
			buf = append(buf, chunk...)
			if len(bytes.TrimRight(buf, "\r\n")) > maxLen {
				skipping = true
				buf = buf[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		switch {
		case skipping:
			debug.Debug("Skipping line longer than %d bytes", maxLen)
		case len(buf) > 0:
			if fnErr := fn(string(bytes.TrimRight(buf, "\r\n"))); fnErr != nil {
				return fnErr
			}
		}
		buf = buf[:0]
		skipping = false

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
