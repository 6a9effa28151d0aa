package comm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

const (
	// telStart is the start of telegram byte
	telStart = 0x0D

	// telEnd is the end of telegram byte
	telEnd = 0x0A

	// specialCharFirstReplacement is the first byte used to replace a special character
	specialCharFirstReplacement = 0x5E

	// specialCharShift is the amount to shift special characters up.
	// special characters max out at 0x5E, so we will never overflow
	specialCharShift = 0x40
)

var (
	// specialChars is a byte slice of values that must be filtered out of messages
	specialChars = []byte{telEnd, telStart, specialCharFirstReplacement}

	crcTable = crc.NewTable(crc.XMODEM)

	// ErrCRC is generated when a telegram fails its checksum
	ErrCRC = errors.New("CRC mismatch, data lost in transmission")
)

// Telegram is one request or reply.  Op selects the operation, Data is its
// little endian payload.
type Telegram struct {
	Op   byte
	Data []byte
}

func sanitize(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	for _, b := range data {
		if bytes.IndexByte(specialChars, b) >= 0 {
			out = append(out, specialCharFirstReplacement, b+specialCharShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if b == specialCharFirstReplacement {
			// substitution marker, shift the next byte back down
			subNext = true
			continue
		}
		if subNext {
			b -= specialCharShift
		}
		out = append(out, b)
		subNext = false
	}
	return out
}

func crcHelper(b []byte) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(crcTable.CalculateCRC(b)))
	return out
}

// MakeTelegram encodes t as [SOT] [OP] [DATA...] [CRC] [EOT].  The CRC is
// CRC-16/XMODEM over op and data; everything between SOT and EOT is escaped so
// neither appears inside.
func MakeTelegram(t Telegram) []byte {
	buf := make([]byte, 0, len(t.Data)+3)
	buf = append(buf, t.Op)
	buf = append(buf, t.Data...)
	buf = append(buf, crcHelper(buf)...)

	out := append([]byte{telStart}, sanitize(buf)...)
	return append(out, telEnd)
}

// DecodeTelegram renders a raw byte stream into a Telegram.  Anything before
// SOT or after EOT is dropped.
func DecodeTelegram(tele []byte) (Telegram, error) {
	iStart := bytes.IndexByte(tele, telStart)
	if iStart < 0 {
		return Telegram{}, errors.Errorf("telegram start byte %X not found", telStart)
	}
	iEnd := bytes.IndexByte(tele[iStart:], telEnd)
	if iEnd < 0 {
		return Telegram{}, ErrTerminatorNotFound
	}
	body := reverseSanitize(tele[iStart+1 : iStart+iEnd])
	if len(body) < 3 {
		return Telegram{}, errors.Errorf("telegram of %d bytes is too short", len(body))
	}
	fidx := len(body) - 2
	if !bytes.Equal(body[fidx:], crcHelper(body[:fidx])) {
		return Telegram{}, ErrCRC
	}
	return Telegram{Op: body[0], Data: body[1:fidx]}, nil
}

// WriteTelegram encodes t onto w
func WriteTelegram(w io.Writer, t Telegram) error {
	if w == nil {
		return ErrNotConnected
	}
	_, err := w.Write(MakeTelegram(t))
	return errors.Wrap(err, "writing telegram")
}

// ReadTelegram reads through the next EOT and decodes the telegram
func ReadTelegram(r *bufio.Reader) (Telegram, error) {
	buf, err := r.ReadBytes(telEnd)
	if err != nil {
		if err == io.EOF && len(buf) == 0 {
			return Telegram{}, io.EOF
		}
		return Telegram{}, errors.Wrap(err, "reading telegram")
	}
	return DecodeTelegram(buf)
}

// Transact writes a telegram to rw and then reads the reply
func Transact(rw io.ReadWriter, t Telegram) (Telegram, error) {
	if rw == nil {
		return Telegram{}, ErrNotConnected
	}
	if err := WriteTelegram(rw, t); err != nil {
		return Telegram{}, err
	}
	return ReadTelegram(bufio.NewReader(rw))
}
