package modbusaccess

import "fmt"

// Type represents the different register widths that can be queried from the charge controller.
type Type struct {
	name          string            // the name of the data type
	wordCount     uint8             // the number of underlying 16 bit registers that represent the data type
	fromWordsFunc func(Frame) int64 // function to combine the registers into the raw integer
}

// Int16Type represents a single register holding a 16 bit two's complement signed integer.
var Int16Type = Type{
	name:      "int16",
	wordCount: 1,
	fromWordsFunc: func(words Frame) int64 {
		raw := int64(words[0]) & 0xFFFF
		if raw&0x8000 != 0 {
			return -((raw ^ 0xFFFF) + 1)
		}
		return raw
	},
}

// Uint32Type represents two registers holding a big endian (high word first) unsigned 32 bit integer.
// It is only used for cumulative counters, which are never negative.
var Uint32Type = Type{
	name:      "uint32",
	wordCount: 2,
	fromWordsFunc: func(words Frame) int64 {
		return int64(uint32(words[0])<<16 | uint32(words[1]))
	},
}

// Name returns the name of the data type.
func (t Type) Name() string {
	return t.name
}

// WordCount returns the number of registers the data type spans.
func (t Type) WordCount() uint8 {
	return t.wordCount
}

// TypeForWidth returns the data type for a register width of `wordCount` words.
func TypeForWidth(wordCount uint8) (Type, error) {
	switch wordCount {
	case 1:
		return Int16Type, nil
	case 2:
		return Uint32Type, nil
	default:
		return Type{}, fmt.Errorf("unsupported register width %d", wordCount)
	}
}

// Assemble combines `words` into the raw integer for a register of width `wordCount`.
//
// The caller must have checked that the frame holds exactly `wordCount` words: a mismatch, or a width other than
// one or two words, is a programming error and panics.
func Assemble(words Frame, wordCount uint8) int64 {
	dataType, err := TypeForWidth(wordCount)
	if err != nil {
		panic(err)
	}
	if len(words) != int(wordCount) {
		panic(fmt.Sprintf("assemble %s: got %d words, want %d", dataType.name, len(words), wordCount))
	}
	return dataType.fromWordsFunc(words)
}
