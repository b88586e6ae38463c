package checkpoint

import (
	"errors"
	"time"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
)

// DefaultLease is how long a claim stays valid without a commit or renewal.
const DefaultLease = 30 * time.Second

var (
	// ErrOwnedElsewhere is returned by Claim while another live owner holds
	// the segment.
	ErrOwnedElsewhere = apperr.Conflict(errors.New("segment owned by another consumer"))
	// ErrOwnershipLost is returned by Commit and Renew when the caller's lease
	// was taken over.
	ErrOwnershipLost = apperr.Conflict(errors.New("segment ownership lost"))
)

// Record is the shape persisted in the checkpoint table, one item per segment.
type Record struct {
	SegmentID      string    `dynamodbav:"segment_id"` // PK
	Offset         *int64    `dynamodbav:"offset,omitempty"`
	Owner          string    `dynamodbav:"owner,omitempty"`
	LeaseExpiresAt int64     `dynamodbav:"lease_expires_at"` // epoch millis
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
}

// Position is the durable cursor handed out by Claim.
type Position struct {
	// Offset is the last fully processed offset. Meaningless unless Found.
	Offset int64
	Found  bool
}

// Next is the first offset to read, or -1 when nothing was committed yet.
func (p Position) Next() int64 {
	if !p.Found {
		return -1
	}
	return p.Offset + 1
}
