// Package media stores files uploaded with channel messages.
package media

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is how much of an upload is read to detect its content type.
const sniffLen = 3072

// randomName returns a collision resistant file name that keeps the
// extension of the original name: <unix millis>-<random>.<ext>.
func randomName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	return fmt.Sprintf("%d-%d%s", now.UnixMilli(), rand.IntN(1e9), ext)
}

// sniff detects the content type of r without consuming it. The returned
// reader yields the full content.
func sniff(r io.Reader) (string, io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	header, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return mimetype.Detect(header).String(), br, nil
}
