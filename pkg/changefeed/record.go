package changefeed

import (
	"encoding/json"
	"strings"
)

// Stream event names as delivered on the wire.
const (
	EventNameInsert = "INSERT"
	EventNameModify = "MODIFY"
	EventNameRemove = "REMOVE"
)

// ServicePrincipal identifies deletions performed by the store itself,
// such as TTL expiry sweeps.
const ServicePrincipal = "dynamodb.amazonaws.com"

// Record is a single change-feed entry in the dynamodb-streams wire format.
type Record struct {
	EventID        string        `json:"eventID"`
	EventName      string        `json:"eventName"`
	EventVersion   string        `json:"eventVersion,omitempty"`
	EventSource    string        `json:"eventSource,omitempty"`
	EventSourceARN string        `json:"eventSourceARN,omitempty"`
	AWSRegion      string        `json:"awsRegion,omitempty"`
	UserIdentity   *UserIdentity `json:"userIdentity,omitempty"`
	Change         *StreamChange `json:"dynamodb,omitempty"`
}

// UserIdentity describes the actor behind a change. TTL-expired records
// arrive with Type "Service" and the store's service principal.
type UserIdentity struct {
	Type        string `json:"type"`
	PrincipalID string `json:"principalId"`
}

// IsServiceExpiry reports whether the identity marks a store-driven expiry.
func (u *UserIdentity) IsServiceExpiry() bool {
	return u != nil && u.Type == "Service" && u.PrincipalID == ServicePrincipal
}

// StreamChange carries the keyed-store view of a change: the key of the
// affected item plus its images before and after the change, depending on
// the feed's view type.
type StreamChange struct {
	ApproximateCreationDateTime float64                   `json:"ApproximateCreationDateTime,omitempty"`
	Keys                        map[string]AttributeValue `json:"Keys,omitempty"`
	NewImage                    map[string]AttributeValue `json:"NewImage,omitempty"`
	OldImage                    map[string]AttributeValue `json:"OldImage,omitempty"`
	SequenceNumber              string                    `json:"SequenceNumber,omitempty"`
	SizeBytes                   int64                     `json:"SizeBytes,omitempty"`
	StreamViewType              string                    `json:"StreamViewType,omitempty"`
}

// Envelope wraps one batch of raw feed records as delivered to the archiver,
// either over HTTP or as a feed message payload. Source and Format are
// optional hints; records carry enough structure to stand on their own.
type Envelope struct {
	Source  string            `json:"source,omitempty"`
	Format  string            `json:"format,omitempty"`
	Records []json.RawMessage `json:"records"`
}

// SourceFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/NAME/stream/LABEL. Returns "" when
// the ARN does not carry a table segment.
func SourceFromARN(arn string) string {
	const marker = ":table/"
	i := strings.Index(arn, marker)
	if i < 0 {
		return ""
	}
	rest := arn[i+len(marker):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[:j]
	}
	return rest
}
