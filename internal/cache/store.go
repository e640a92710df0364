package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// Store keeps embedding vectors by key. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// ErrCorruptVector is returned when a stored payload cannot be decoded.
var ErrCorruptVector = errors.New("corrupt cached vector")

// Key derives the cache key of text embedded by model.
func Key(model, text string) string {
	sum := sha1.Sum([]byte(model + "|" + text))
	return hex.EncodeToString(sum[:])
}

// Encode serializes vec as a little-endian length prefix followed by the float32 values.
func Encode(vec []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(vec))); err != nil {
		return nil, fmt.Errorf("encode vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrCorruptVector
	}
	length := binary.LittleEndian.Uint32(data[:4])
	need := int(length) * 4
	if len(data)-4 != need {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrCorruptVector, need, len(data)-4)
	}
	vec := make([]float32, length)
	if err := binary.Read(bytes.NewReader(data[4:]), binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVector, err)
	}
	return vec, nil
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]float32
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]float32)}
}

func (m *Memory) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), vec...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]float32)
	}
	m.data[key] = append([]float32(nil), vec...)
	return nil
}

// Len reports the number of cached vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
