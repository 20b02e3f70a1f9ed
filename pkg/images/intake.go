// Package images validates and persists user-uploaded images. The core only
// stores and references uploads; delivery is handled by the HTTP layer and
// resizing is out of scope.
package images

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayudatec/mesabot/pkg/store"
)

var (
	// ErrBadEncoding is returned when the payload is not valid base64 or a
	// well-formed data URL.
	ErrBadEncoding = errors.New("image payload is not valid base64")

	// ErrUnsupportedType is returned when the declared MIME type or the
	// decoded magic bytes are outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported image type")

	// ErrTooLarge is returned when the decoded image exceeds the size cap.
	ErrTooLarge = errors.New("image exceeds size limit")
)

// allowedMIME maps accepted data-URL types to canonical extensions.
var allowedMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// magicSignature pairs a magic-byte prefix with its extension. Checked on
// the decoded buffer regardless of what the data URL claimed.
type magicSignature struct {
	prefix []byte
	ext    string
}

var magicSignatures = []magicSignature{
	{[]byte{0xFF, 0xD8, 0xFF}, "jpg"},
	{[]byte{0x89, 0x50, 0x4E, 0x47}, "png"},
	{[]byte("GIF8"), "gif"},
	{[]byte("RIFF"), "webp"},
}

// Stored describes a persisted upload.
type Stored struct {
	Filename string
	URL      string
	Bytes    int
}

// Intake validates and writes uploads under <root>/<conversation_id>/.
type Intake struct {
	root          string
	maxBytes      int64
	publicBaseURL string
}

// NewIntake creates the intake rooted at dir. publicBaseURL is this
// service's external URL, used to build the stored reference.
func NewIntake(dir string, maxBytes int64, publicBaseURL string) (*Intake, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Intake{root: dir, maxBytes: maxBytes, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Store validates payload (a data URL or raw base64) and persists it for
// the conversation. Validation is two-step: declared MIME prefix first,
// then magic bytes on the decoded buffer.
func (in *Intake) Store(conversationID, payload string) (*Stored, error) {
	dir, err := store.UploadsDirFor(in.root, conversationID)
	if err != nil {
		return nil, err
	}

	body := payload
	declaredExt := ""
	if strings.HasPrefix(payload, "data:") {
		mime, rest, ok := parseDataURL(payload)
		if !ok {
			return nil, ErrBadEncoding
		}
		ext, allowed := allowedMIME[mime]
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
		}
		declaredExt = ext
		body = rest
	}

	// Reject oversized payloads before decoding: base64 inflates by 4/3.
	if int64(len(body))/4*3 > in.maxBytes {
		return nil, ErrTooLarge
	}

	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	if int64(len(decoded)) > in.maxBytes {
		return nil, ErrTooLarge
	}

	ext := sniffExtension(decoded)
	if ext == "" {
		return nil, fmt.Errorf("%w: unrecognized magic bytes", ErrUnsupportedType)
	}
	if declaredExt != "" && declaredExt != ext {
		return nil, fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedType, declaredExt, ext)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation uploads dir: %w", err)
	}
	filename := fmt.Sprintf("%d-%s.%s", time.Now().Unix(), uuid.NewString()[:8], ext)
	if err := os.WriteFile(filepath.Join(dir, filename), decoded, 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	return &Stored{
		Filename: filename,
		URL:      fmt.Sprintf("%s/images/%s/%s", in.publicBaseURL, conversationID, filename),
		Bytes:    len(decoded),
	}, nil
}

// Path resolves a stored upload for serving, validating both the
// conversation id and the filename.
func (in *Intake) Path(conversationID, filename string) (string, error) {
	dir, err := store.UploadsDirFor(in.root, conversationID)
	if err != nil {
		return "", err
	}
	if !store.SafeUploadName(filename) {
		return "", fmt.Errorf("%w: unsafe filename", store.ErrInvalidID)
	}
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return path, nil
}

// parseDataURL splits "data:image/png;base64,AAAA" into MIME type and body.
func parseDataURL(s string) (mime, body string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	meta, body, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime, _, _ = strings.Cut(meta, ";")
	if !strings.Contains(meta, "base64") {
		return "", "", false
	}
	return mime, body, true
}

func sniffExtension(data []byte) string {
	for _, sig := range magicSignatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.ext
		}
	}
	return ""
}
