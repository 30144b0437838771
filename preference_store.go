package stepauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	preferenceKeyPrefix     = "amp"
	preferenceRecordVersion = 1
)

var (
	errPreferenceNotFound = errors.New("method preference not found")
	errPreferenceBackend  = errors.New("method preference backend unavailable")
	errPreferenceCorrupt  = errors.New("method preference record corrupt")
)

type methodPreference struct {
	Method    Method
	SavedAt   int64
	ExpiresAt int64
}

type preferenceStore struct {
	redis *redis.Client
}

func newPreferenceStore(redisClient *redis.Client) *preferenceStore {
	return &preferenceStore{redis: redisClient}
}

func (s *preferenceStore) key(identityID string) string {
	return preferenceKeyPrefix + ":" + identityID
}

func (s *preferenceStore) Save(ctx context.Context, identityID string, m Method, ttl time.Duration) error {
	now := time.Now()
	record := &methodPreference{
		Method:    m,
		SavedAt:   now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	encoded, err := encodeMethodPreference(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(identityID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPreferenceBackend, err)
	}
	return nil
}

func (s *preferenceStore) Get(ctx context.Context, identityID string) (Method, error) {
	data, err := s.redis.Get(ctx, s.key(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errPreferenceNotFound
		}
		return "", fmt.Errorf("%w: %v", errPreferenceBackend, err)
	}

	record, err := decodeMethodPreference(data)
	if err != nil {
		_, _ = s.redis.Del(ctx, s.key(identityID)).Result()
		return "", err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(identityID)).Result()
		return "", errPreferenceNotFound
	}
	return record.Method, nil
}

func (s *preferenceStore) Delete(ctx context.Context, identityID string) error {
	if err := s.redis.Del(ctx, s.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPreferenceBackend, err)
	}
	return nil
}

func encodeMethodPreference(record *methodPreference) ([]byte, error) {
	method := string(record.Method)
	if len(method) > 255 {
		return nil, errPreferenceCorrupt
	}

	buf := bytes.NewBuffer(make([]byte, 0, 2+len(method)+16))
	buf.WriteByte(preferenceRecordVersion)
	buf.WriteByte(byte(len(method)))
	buf.WriteString(method)
	if err := binary.Write(buf, binary.BigEndian, record.SavedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMethodPreference(data []byte) (*methodPreference, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errPreferenceCorrupt
	}
	if version != preferenceRecordVersion {
		return nil, fmt.Errorf("%w: unknown version %d", errPreferenceCorrupt, version)
	}

	length, err := reader.ReadByte()
	if err != nil {
		return nil, errPreferenceCorrupt
	}
	methodBytes := make([]byte, int(length))
	if _, err := io.ReadFull(reader, methodBytes); err != nil {
		return nil, errPreferenceCorrupt
	}

	record := &methodPreference{Method: Method(methodBytes)}
	if !record.Method.Valid() {
		return nil, errPreferenceCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &record.SavedAt); err != nil {
		return nil, errPreferenceCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, errPreferenceCorrupt
	}
	return record, nil
}
