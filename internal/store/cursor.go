// ABOUTME: Opaque pagination cursors for message history
// ABOUTME: Encodes base64(sent_at|seq) so pages resume exactly after the last message

package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayout is a fixed-width UTC layout so stored timestamps sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// encodeCursor creates an opaque cursor from a message's timestamp and sequence.
func encodeCursor(sentAt time.Time, seq int64) string {
	data := fmt.Sprintf("%s|%d", formatTime(sentAt), seq)
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// decodeCursor parses a cursor produced by encodeCursor.
func decodeCursor(cursor string) (time.Time, int64, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: encoding: %v", ErrInvalidCursor, err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, fmt.Errorf("%w: expected sent_at|seq", ErrInvalidCursor)
	}

	ts, err := parseTime(parts[0])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: timestamp: %v", ErrInvalidCursor, err)
	}

	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: seq: %v", ErrInvalidCursor, err)
	}

	return ts, seq, nil
}

// after reports whether a message at (sentAt, seq) sorts after the cursor position.
func after(sentAt time.Time, seq int64, cursorTS time.Time, cursorSeq int64) bool {
	if sentAt.Equal(cursorTS) {
		return seq > cursorSeq
	}
	return sentAt.After(cursorTS)
}
