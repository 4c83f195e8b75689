// Package event builds, signs and verifies content-addressed relay events.
//
// An event id is the sha256 of the canonical serialization
// [0, pubkey, created_at, kind, tags, content]. The serialization order and
// escaping rules are fixed so that any party can recompute the id.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"unicode/utf8"
)

const (
	KindMetadata      = 0
	KindTextNote      = 1
	KindDirectMessage = 4
)

type Tag []string

type Tags []Tag

// Event is the unsigned envelope.
type Event struct {
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
}

// SignedEvent is an Event with its derived id and the author's signature.
type SignedEvent struct {
	Event
	ID  string `json:"id"`
	Sig string `json:"sig"`
}

// Serialize returns the canonical form hashed into the event id.
func Serialize(e Event) []byte {
	buf := make([]byte, 0, 128+len(e.Content))
	buf = append(buf, `[0,`...)
	buf = appendString(buf, e.PubKey)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, e.CreatedAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(e.Kind), 10)
	buf = append(buf, ',', '[')
	for i, tag := range e.Tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, v := range tag {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, v)
		}
		buf = append(buf, ']')
	}
	buf = append(buf, ']', ',')
	buf = appendString(buf, e.Content)
	buf = append(buf, ']')
	return buf
}

// ComputeID hashes the canonical serialization of e.
func ComputeID(e Event) string {
	sum := sha256.Sum256(Serialize(e))
	return hex.EncodeToString(sum[:])
}

// Envelope wraps ev in the ["EVENT", ev] frame relays expect.
func Envelope(ev SignedEvent) ([]byte, error) {
	if ev.Tags == nil {
		ev.Tags = Tags{}
	}
	return json.Marshal([]any{"EVENT", ev})
}

// Tag returns the first value of the first tag named name.
func (e Event) Tag(name string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// appendString writes s as a JSON string using the minimal escaping set:
// only quote, backslash and control characters are escaped, everything
// else is copied as UTF-8.
func appendString(buf []byte, s string) []byte {
	const hexDigits = "0123456789abcdef"
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf = append(buf, "\ufffd"...)
			} else {
				buf = append(buf, s[i:i+size]...)
			}
			i += size
			continue
		}
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				buf = append(buf, c)
			}
		}
		i++
	}
	return append(buf, '"')
}
