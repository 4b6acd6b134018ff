package constants

// DocumentStatus is the lifecycle status of a document row.
type DocumentStatus string

// Stable values (store these exact strings in DB and expose them verbatim to clients).
const (
	DocumentStatusQueued     DocumentStatus = "QUEUED"     // row written, job published or pending publish
	DocumentStatusProcessing DocumentStatus = "PROCESSING" // a worker picked up the job
	DocumentStatusDone       DocumentStatus = "DONE"       // text extracted
	DocumentStatusFailed     DocumentStatus = "FAILED"     // terminal failure
)

// DocumentStatuses lists every status in lifecycle order.
var DocumentStatuses = []DocumentStatus{
	DocumentStatusQueued,
	DocumentStatusProcessing,
	DocumentStatusDone,
	DocumentStatusFailed,
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	for _, v := range DocumentStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s is DONE or FAILED.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusDone || s == DocumentStatusFailed
}

func (s DocumentStatus) String() string { return string(s) }
