package readiness

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Still-image brands that share the ISO-BMFF ftyp box with video.
var imageBrands = map[string]bool{
	"heic": true,
	"heix": true,
	"heim": true,
	"heis": true,
	"mif1": true,
	"avif": true,
}

var signatures = []struct {
	format string
	offset int
	magic  []byte
}{
	{"mkv", 0, []byte{0x1A, 0x45, 0xDF, 0xA3}},
	{"flv", 0, []byte("FLV\x01")},
	{"wmv", 0, []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11}},
}

// DetectFormat reports the container format of a video header, or "" if the
// bytes do not look like a video.
func DetectFormat(header []byte) string {
	if len(header) < 12 {
		return ""
	}

	if bytes.Equal(header[4:8], []byte("ftyp")) {
		return isoFormat(header)
	}

	if bytes.Equal(header[:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("AVI ")) {
		return "avi"
	}

	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(header) >= end && bytes.Equal(header[sig.offset:end], sig.magic) {
			return sig.format
		}
	}
	return ""
}

// isoFormat accepts any well-formed ftyp box. A box size of 0 runs to the end
// of the file and 1 means a 64-bit size follows; anything else must hold the
// major brand and minor version.
func isoFormat(header []byte) string {
	size := binary.BigEndian.Uint32(header[:4])
	if size != 0 && size != 1 && size < 16 {
		return ""
	}
	brand := header[8:12]
	for _, c := range brand {
		if c < 0x20 || c > 0x7e {
			return ""
		}
	}
	switch {
	case imageBrands[string(brand)]:
		return ""
	case string(brand) == "qt  ":
		return "mov"
	}
	return "mp4"
}

// Sniff reads the first bytes of path and returns its container format or
// ErrNotVideo.
func Sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return "", fmt.Errorf("%w: %s is empty", ErrNotVideo, path)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	format := DetectFormat(header[:n])
	if format == "" {
		return "", fmt.Errorf("%w: %s", ErrNotVideo, path)
	}
	return format, nil
}
