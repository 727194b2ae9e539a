package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDGenerator issues time-ordered UUIDv7 identifiers. 74 random bits per
// millisecond make collisions negligible; stores still reject duplicates.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator {
	return UUIDGenerator{}
}

func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
