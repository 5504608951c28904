package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category routes entries by their primary purpose. Compliance entries feed
// regulatory review and carry the longest retention; security entries feed
// monitoring and alerting; operations entries are high-volume and may be
// sampled on the stream side. The hash chain itself is never sampled.
type Category string

const (
	CategoryCompliance Category = "compliance"
	CategorySecurity   Category = "security"
	CategoryOperations Category = "operations"
)

// EventType names every action the governance core records. The set is
// closed: callers pick from these constants so queries and category routing
// stay stable.
type EventType string

const (
	EventClassificationPerformed EventType = "classification_performed"

	EventRedactionApplied       EventType = "redaction_applied"
	EventRedactionRefused       EventType = "redaction_refused"
	EventTransformationApplied  EventType = "transformation_applied"
	EventTransformationReversed EventType = "transformation_reversed"
	EventReversalRefused        EventType = "reversal_refused"

	EventAttestationSigned    EventType = "attestation_signed"
	EventAttestationRefused   EventType = "attestation_refused"
	EventAttestationVerified  EventType = "attestation_verified"
	EventAttestationRevoked   EventType = "attestation_revoked"
	EventAttestationSuspended EventType = "attestation_suspended"
	EventKeyGenerated         EventType = "key_generated"
	EventKeyRotated           EventType = "key_rotated"
	EventKeyRevoked           EventType = "key_revoked"

	EventPolicyCreated    EventType = "policy_created"
	EventPolicyUpdated    EventType = "policy_updated"
	EventPolicyDeleted    EventType = "policy_deleted"
	EventPolicyValidated  EventType = "policy_validated"
	EventPolicyApproved   EventType = "policy_approved"
	EventPolicyDeployed   EventType = "policy_deployed"
	EventPolicyRolledBack EventType = "policy_rolled_back"
	EventPolicyTested     EventType = "policy_tested"
	EventPolicyEvaluated  EventType = "policy_evaluated"

	EventExportPerformed    EventType = "export_performed"
	EventIntegrityChecked   EventType = "integrity_checked"
	EventIntegrityViolation EventType = "integrity_violation"
)

var eventCategories = map[EventType]Category{
	// Compliance: regulatory significance, feeds export and review.
	EventRedactionApplied:       CategoryCompliance,
	EventTransformationApplied:  CategoryCompliance,
	EventTransformationReversed: CategoryCompliance,
	EventAttestationSigned:      CategoryCompliance,
	EventAttestationRevoked:     CategoryCompliance,
	EventAttestationSuspended:   CategoryCompliance,
	EventPolicyDeleted:          CategoryCompliance,
	EventPolicyApproved:         CategoryCompliance,
	EventPolicyDeployed:         CategoryCompliance,
	EventPolicyRolledBack:       CategoryCompliance,
	EventExportPerformed:        CategoryCompliance,

	// Security: refusals, revocations, and integrity signals.
	EventRedactionRefused:   CategorySecurity,
	EventReversalRefused:    CategorySecurity,
	EventAttestationRefused: CategorySecurity,
	EventKeyRevoked:         CategorySecurity,
	EventKeyRotated:         CategorySecurity,
	EventIntegrityViolation: CategorySecurity,

	// Operations: routine, high-volume activity.
	EventClassificationPerformed: CategoryOperations,
	EventAttestationVerified:     CategoryOperations,
	EventKeyGenerated:            CategoryOperations,
	EventPolicyCreated:           CategoryOperations,
	EventPolicyUpdated:           CategoryOperations,
	EventPolicyValidated:         CategoryOperations,
	EventPolicyTested:            CategoryOperations,
	EventPolicyEvaluated:         CategoryOperations,
	EventIntegrityChecked:        CategoryOperations,
}

// Category returns the routing category for this event type. Unknown types
// default to operations.
func (e EventType) Category() Category {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// DefaultChain receives entries that do not name their own chain.
const DefaultChain = "main"

// GenesisHash is the previous-hash marker carried by the first entry of
// every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one link of a tamper-evident chain. All fields participate in
// the content hash except ContentHash itself; PrevHash ties the entry to
// its predecessor so recomputing the chain from sequence zero reproduces
// every stored hash.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	ChainID   string    `json:"chain_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Category  Category  `json:"category"`

	Actor        string `json:"actor"`
	SubjectID    string `json:"subject_id,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	ResourceKind string `json:"resource_kind,omitempty"`

	DataType            string   `json:"data_type,omitempty"`
	Sensitivity         string   `json:"sensitivity,omitempty"`
	CulturallySensitive bool     `json:"culturally_sensitive"`
	Frameworks          []string `json:"frameworks,omitempty"`

	RequestID string         `json:"request_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`

	ContentHash string `json:"content_hash"`
	PrevHash    string `json:"prev_hash"`
}

// Record is what callers hand to Append. The service assigns identity,
// sequence, hashes, and the category derived from the event type.
type Record struct {
	ChainID             string
	EventType           EventType
	Actor               string
	SubjectID           string
	ResourceID          string
	ResourceKind        string
	DataType            string
	Sensitivity         string
	CulturallySensitive bool
	Frameworks          []string
	RequestID           string
	Detail              map[string]any
}

// QueryCriteria filters chain entries. Zero values mean "no filter"; results
// are always ordered by (chain, sequence).
type QueryCriteria struct {
	ChainID             string
	SubjectID           string
	Actor               string
	EventTypes          []EventType
	Category            Category
	From                time.Time
	To                  time.Time
	CulturallySensitive *bool
	Framework           string
	Limit               int
}

// FindingSeverity grades integrity findings. A recomputed hash that diverges
// from the stored one is critical; a broken previous-hash link is high; a
// sequence gap is medium.
type FindingSeverity string

const (
	FindingCritical FindingSeverity = "critical"
	FindingHigh     FindingSeverity = "high"
	FindingMedium   FindingSeverity = "medium"
)

// Finding reports one integrity divergence at a chain position.
type Finding struct {
	Sequence    int64           `json:"sequence"`
	EntryID     uuid.UUID       `json:"entry_id"`
	Severity    FindingSeverity `json:"severity"`
	Description string          `json:"description"`
}

// IntegrityReport is the outcome of a chain validation pass.
type IntegrityReport struct {
	ChainID        string    `json:"chain_id"`
	EntriesChecked int       `json:"entries_checked"`
	Findings       []Finding `json:"findings,omitempty"`
	Intact         bool      `json:"intact"`
	CheckedAt      time.Time `json:"checked_at"`
}
