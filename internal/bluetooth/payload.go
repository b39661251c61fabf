package bluetooth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoPayload is returned for an empty notification.
var ErrNoPayload = errors.New("bluetooth: empty payload")

// DecodePayload turns a notification into an integer. Serial terminal apps
// send decimal text ("1", "1\r\n"); firmware peers send the raw value as up
// to four little-endian bytes.
func DecodePayload(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, ErrNoPayload
	}

	if text := strings.TrimSpace(string(data)); text != "" && isDecimal(text) {
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bluetooth: payload %q: %w", text, err)
		}
		return uint32(v), nil
	}

	if len(data) > 4 {
		return 0, fmt.Errorf("bluetooth: payload of %d bytes is not an integer", len(data))
	}
	var buf [4]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
