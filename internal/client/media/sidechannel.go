package media

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	SideChannelLabel = "media-state"
	SideChannelID    = uint16(0)
)

func EncodeState(s MediaState) ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode media state: %w", err)
	}
	return b, nil
}

func DecodeState(b []byte) (MediaState, error) {
	var s MediaState
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return MediaState{}, fmt.Errorf("decode media state: %w", err)
	}
	return s, nil
}
