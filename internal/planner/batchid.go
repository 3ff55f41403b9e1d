package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	IDFormatUUID  = "uuid"
	IDFormatDated = "dated"
)

// IDGenerator mints batch identifiers. Implementations must never repeat an id.
type IDGenerator interface {
	NewID(now time.Time) string
}

// UUIDGenerator returns random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(time.Time) string { return uuid.NewString() }

// DatedGenerator returns ids like BATCH-20240131-3f2a9c1d04be.
type DatedGenerator struct {
	Prefix string
}

func (g DatedGenerator) NewID(now time.Time) string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = "BATCH"
	}
	frag := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), frag)
}

// NewIDGenerator maps a configured format name to a generator.
func NewIDGenerator(format, prefix string) (IDGenerator, error) {
	switch strings.ToLower(format) {
	case "", IDFormatUUID:
		return UUIDGenerator{}, nil
	case IDFormatDated:
		return DatedGenerator{Prefix: prefix}, nil
	default:
		return nil, fmt.Errorf("unknown batch id format: %s", format)
	}
}
