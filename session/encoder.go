package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

const maxMethodsUsed = 16

// Encode serializes a session snapshot for the Redis read-only cache.
// The layout is versioned so the cache survives schema evolution: one
// format byte, length-prefixed strings, big-endian integers.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}

	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionCurrent)

	if err := writeString(&buf, s.SessionID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, s.IdentityID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, s.Role); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(s.AssuranceLevel))

	if len(s.MethodsUsed) > maxMethodsUsed {
		return nil, errors.New("too many methods")
	}
	buf.WriteByte(byte(len(s.MethodsUsed)))
	for _, m := range s.MethodsUsed {
		if err := writeString(&buf, m); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, s.EstablishedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a cached snapshot. Unknown format versions are rejected,
// never best-effort parsed.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session cache version")
	}

	s := &Session{}

	if s.SessionID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.IdentityID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.Role, err = readString(reader); err != nil {
		return nil, err
	}

	level, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if level > byte(AssuranceTier2) {
		return nil, errors.New("invalid assurance level")
	}
	s.AssuranceLevel = Assurance(level)

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(count) > maxMethodsUsed {
		return nil, errors.New("invalid method count")
	}
	if count > 0 {
		s.MethodsUsed = make([]string, 0, count)
		for i := 0; i < int(count); i++ {
			m, err := readString(reader)
			if err != nil {
				return nil, err
			}
			s.MethodsUsed = append(s.MethodsUsed, m)
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &s.EstablishedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return errors.New("string field too long")
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	length, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
