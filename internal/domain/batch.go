package domain

// BatchItemStatus tracks one batch member through its pipeline. The
// pre-dispatch states are client-local; once a generation exists the
// item mirrors the generation's lifecycle.
type BatchItemStatus string

const (
	BatchPending    BatchItemStatus = "pending"
	BatchUploading  BatchItemStatus = "uploading"
	BatchQueued     BatchItemStatus = "queued"
	BatchProcessing BatchItemStatus = "processing"
	BatchCompleted  BatchItemStatus = "completed"
	BatchFailed     BatchItemStatus = "failed"
)

// Terminal reports whether the item can make no further progress.
func (s BatchItemStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// BatchItem wraps one locally selected photo and, once dispatched, the
// identity of its generation. Items are never persisted; the batch
// coordinator owns them for the lifetime of one submission session.
type BatchItem struct {
	ID             string
	Filename       string
	ContentType    string
	Data           []byte
	GenerationID   string
	Status         BatchItemStatus
	UploadProgress int
	Err            error
}
