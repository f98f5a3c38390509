package modbusaccess

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	FrameID       = 1 // MODBUS id of the charge controller, fixed by the datasheet
	FrameFunction = 4 // read input registers
)

// Frame holds the 16 bit register words carried by one response, in the order they were sent.
type Frame []uint16

// FrameFormatError is returned when a response is not a well formed `id,function,byteCount,b0,b1,...` frame.
type FrameFormatError struct {
	Text   string // the offending response text
	Reason string
}

func (e *FrameFormatError) Error() string {
	return fmt.Sprintf("malformed frame %q: %s", e.Text, e.Reason)
}

// ParseFrame decodes comma separated response text into its register words.
//
// Bytes are paired big endian into words: word[i] = b[2i]*256 + b[2i+1].
func ParseFrame(text string) (Frame, error) {
	text = strings.TrimSpace(text)
	tokens := strings.Split(text, ",")
	if len(tokens) < 3 {
		return nil, &FrameFormatError{Text: text, Reason: fmt.Sprintf("expected at least 3 fields, got %d", len(tokens))}
	}

	// header fields are plain decimal digits, no sign
	header := make([]int, 3)
	for i, token := range tokens[:3] {
		val, err := strconv.ParseUint(strings.TrimSpace(token), 10, 16)
		if err != nil {
			return nil, &FrameFormatError{Text: text, Reason: fmt.Sprintf("field %d is not a number in 0-65535", i)}
		}
		header[i] = int(val)
	}

	id, function, byteCount := header[0], header[1], header[2]
	if id != FrameID {
		return nil, &FrameFormatError{Text: text, Reason: fmt.Sprintf("id is %d, want %d", id, FrameID)}
	}
	if function != FrameFunction {
		return nil, &FrameFormatError{Text: text, Reason: fmt.Sprintf("function is %d, want %d", function, FrameFunction)}
	}
	if byteCount%2 != 0 {
		return nil, &FrameFormatError{Text: text, Reason: fmt.Sprintf("byte count %d is not even", byteCount)}
	}
	if len(tokens)-3 != byteCount {
		return nil, &FrameFormatError{Text: text, Reason: fmt.Sprintf("byte count is %d but %d bytes follow", byteCount, len(tokens)-3)}
	}

	bytes := make([]uint16, byteCount)
	for i, token := range tokens[3:] {
		val, err := strconv.ParseUint(strings.TrimSpace(token), 10, 8)
		if err != nil {
			return nil, &FrameFormatError{Text: text, Reason: fmt.Sprintf("byte %d is not a number in 0-255", i)}
		}
		bytes[i] = uint16(val)
	}

	words := make(Frame, byteCount/2)
	for i := range words {
		words[i] = bytes[2*i]<<8 | bytes[2*i+1]
	}

	return words, nil
}

// FormatFrame renders a raw register payload, as returned by a binary Modbus read, as response text.
func FormatFrame(data []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d,%d,%d", FrameID, FrameFunction, len(data))
	for _, b := range data {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(int(b)))
	}
	return sb.String()
}
