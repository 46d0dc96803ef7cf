package constants

// JobStatus is the lifecycle state of a ProcessingJob.
type JobStatus string

// Stable values (serialized in API responses, do not reorder or rename).
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transitions can happen without a new
// processing request.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// ExtractionMethod records which extractor produced an invoice record.
type ExtractionMethod string

const (
	MethodLocal  ExtractionMethod = "local"
	MethodLLM    ExtractionMethod = "llm"
	MethodHybrid ExtractionMethod = "hybrid"
)

// Provenance marks which extractor last set a field value.
type Provenance string

const (
	ProvenanceLocal Provenance = "local"
	ProvenanceLLM   Provenance = "llm"
)
