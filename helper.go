package erc7806

import "fmt"

// SplitIntents cuts a transport buffer holding several concatenated intents
// into one sub-slice per intent. Each intent's extent is taken from its own
// length fields; a trailing fragment that cannot hold the intent it declares
// makes the whole buffer malformed.
func SplitIntents(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrMalformedIntent)
	}

	var intents [][]byte
	for offset := 0; offset < len(data); {
		total, err := TotalIntentLength(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("intent %d at offset %d: %w", len(intents), offset, err)
		}
		if offset+total > len(data) {
			return nil, fmt.Errorf("%w: intent %d at offset %d declares %d bytes, %d available",
				ErrMalformedIntent, len(intents), offset, total, len(data)-offset)
		}
		intents = append(intents, data[offset:offset+total])
		offset += total
	}
	return intents, nil
}

// ExtraData returns the bytes following the intent's declared extent, or nil.
func ExtraData(intent []byte) ([]byte, error) {
	segments, err := GetSegments(intent)
	if err != nil {
		return nil, err
	}
	if len(segments.Extra) == 0 {
		return nil, nil
	}
	return segments.Extra, nil
}
