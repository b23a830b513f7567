// Package banner reads the connectivity banner file the WiFi manager
// drops when it wants a transient status message on the panel. The file
// is the entire interface; this package validates it, tracks expiry and
// cleans up after itself.
package banner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
)

// MaxDuration bounds how long a single banner may own the panel.
const MaxDuration = 300 * time.Second

// DefaultDuration applies when the record omits a duration.
const DefaultDuration = 10 * time.Second

// Banner is one validated connectivity message.
type Banner struct {
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the banner is past its display window.
func (b *Banner) Expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// record is the wire shape of the banner file.
type record struct {
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
	Duration  float64 `json:"duration"`
}

// Reader reads and validates the banner file each iteration.
type Reader struct {
	path   string
	logger zerolog.Logger
}

// NewReader creates a reader for path. An empty path disables banners.
func NewReader(path string) *Reader {
	return &Reader{
		path:   path,
		logger: log.WithComponent("banner"),
	}
}

// Read returns the current valid banner, or nil when there is none.
// Corrupt and expired files are deleted best-effort; read errors other
// than absence are reported so the caller can throttle-log them.
func (r *Reader) Read(now time.Time) (*Banner, error) {
	if r.path == "" {
		return nil, nil
	}

	// #nosec G304 -- the path comes from operator config
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read banner file: %w", err)
	}

	b, err := parse(data, now)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("event", "banner.invalid").
			Str(log.FieldPath, r.path).
			Msg("deleting invalid banner file")
		r.remove()
		return nil, nil
	}

	if b.Expired(now) {
		r.remove()
		return nil, nil
	}
	return b, nil
}

// Clear deletes the banner file, used once its display window has passed.
func (r *Reader) Clear() {
	r.remove()
}

func (r *Reader) remove() {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn().
			Err(err).
			Str("event", "banner.remove_failed").
			Str(log.FieldPath, r.path).
			Msg("could not delete banner file")
	}
}

// parse validates the raw record: UTF-8 JSON, non-empty message, positive
// timestamp, duration within [0, MaxDuration].
func parse(data []byte, now time.Time) (*Banner, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse banner: %w", err)
	}

	msg := strings.TrimSpace(norm.NFC.String(rec.Message))
	if msg == "" {
		return nil, fmt.Errorf("banner message is empty")
	}
	if rec.Timestamp <= 0 {
		return nil, fmt.Errorf("banner timestamp %v is not positive", rec.Timestamp)
	}
	if rec.Duration < 0 || rec.Duration > MaxDuration.Seconds() {
		return nil, fmt.Errorf("banner duration %v out of range", rec.Duration)
	}

	created := time.Unix(0, int64(rec.Timestamp*float64(time.Second)))
	dur := DefaultDuration
	if rec.Duration > 0 {
		dur = time.Duration(rec.Duration * float64(time.Second))
	}
	return &Banner{
		Message:   msg,
		CreatedAt: created,
		ExpiresAt: created.Add(dur),
	}, nil
}

// Wrap word-wraps msg to at most two lines of cols characters, truncating
// the rest. Words longer than a line are split hard.
func Wrap(msg string, cols int) []string {
	if cols <= 0 {
		return nil
	}

	words := strings.Fields(msg)
	lines := make([]string, 0, 2)
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
		}
	}

	for _, w := range words {
		if len(lines) == 2 {
			break
		}
		for len(w) > cols {
			flush()
			if len(lines) == 2 {
				return lines
			}
			lines = append(lines, w[:cols])
			w = w[cols:]
		}
		if w == "" {
			continue
		}
		switch {
		case cur.Len() == 0:
			cur.WriteString(w)
		case cur.Len()+1+len(w) <= cols:
			cur.WriteByte(' ')
			cur.WriteString(w)
		default:
			flush()
			if len(lines) == 2 {
				return lines
			}
			cur.WriteString(w)
		}
	}
	if len(lines) < 2 {
		flush()
	}
	return lines
}
