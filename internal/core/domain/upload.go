package domain

import "time"

// ChunkCounters are the per-row outcomes of persisting a batch of orders.
// Success always equals Created + Updated + Skipped.
type ChunkCounters struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

func (c ChunkCounters) Add(other ChunkCounters) ChunkCounters {
	return ChunkCounters{
		Success: c.Success + other.Success,
		Fail:    c.Fail + other.Fail,
		Created: c.Created + other.Created,
		Updated: c.Updated + other.Updated,
		Skipped: c.Skipped + other.Skipped,
	}
}

// Rows is the number of rows the counters account for.
func (c ChunkCounters) Rows() int {
	return c.Success + c.Fail
}

type ChunkUploadResult struct {
	Success         bool          `json:"success"`
	UploadID        string        `json:"uploadId"`
	TotalChunks     int           `json:"totalChunks"`
	CompletedChunks int           `json:"completedChunks"`
	Results         ChunkCounters `json:"results"`
	Error           string        `json:"error,omitempty"`
}

// ChunkUploadSession is the client-side view of one multi-chunk upload. It
// is owned by a single coordinator call and never shared.
type ChunkUploadSession struct {
	UploadID        string
	TotalChunks     int
	ChunkSize       int
	CompletedChunks int
	Retries         map[int]int
	Cancelled       bool
	Results         ChunkCounters
}

// UploadProgress is the snapshot handed to progress observers.
type UploadProgress struct {
	UploadID        string `json:"uploadId"`
	CompletedChunks int    `json:"completedChunks"`
	TotalChunks     int    `json:"totalChunks"`
	Progress        int    `json:"progress"`
	Message         string `json:"message"`
}

type UploadProgressFunc func(UploadProgress)

type InitUploadRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize"`
}

type InitUploadResponse struct {
	UploadID string `json:"uploadId"`
}

type ChunkUploadRequest struct {
	UploadID    string     `json:"uploadId"`
	ChunkIndex  int        `json:"chunkIndex"`
	TotalChunks int        `json:"totalChunks"`
	ChunkData   []OrderRow `json:"chunkData"`
	IsLastChunk bool       `json:"isLastChunk"`
}

type ChunkUploadResponse struct {
	ChunkResult ChunkCounters `json:"chunkResult"`
}

type SingleUploadRequest struct {
	FileName string     `json:"fileName"`
	FileSize int64      `json:"fileSize"`
	Rows     []OrderRow `json:"rows"`
}

type SingleUploadResponse struct {
	Results ChunkCounters `json:"results"`
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionQueued    SessionStatus = "queued"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

// Terminal reports whether the session no longer accepts work.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionActive, SessionQueued:
		return false
	default:
		return true
	}
}

type Stage string

const (
	StageQueued    Stage = "queued"
	StageUploading Stage = "uploading"
	StageParsing   Stage = "parsing"
	StageSaving    Stage = "saving"
	StageCompleted Stage = "completed"
	StageCancelled Stage = "cancelled"
	StageError     Stage = "error"
)

// Final reports whether no further progress events follow this stage.
func (s Stage) Final() bool {
	return s == StageCompleted || s == StageError || s == StageCancelled
}

// UploadSession is the server-side record of an upload, keyed by ID.
type UploadSession struct {
	ID              string        `json:"uploadId"`
	FileName        string        `json:"fileName"`
	FileSize        int64         `json:"fileSize"`
	StoragePath     string        `json:"-"`
	TotalChunks     int           `json:"totalChunks"`
	ChunkSize       int           `json:"chunkSize"`
	CompletedChunks int           `json:"completedChunks"`
	Status          SessionStatus `json:"status"`
	Stage           Stage         `json:"stage"`
	Progress        int           `json:"progress"`
	Message         string        `json:"message,omitempty"`
	Results         ChunkCounters `json:"results"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ProgressEvent is one message of the per-upload progress stream.
type ProgressEvent struct {
	UploadID      string         `json:"uploadId"`
	Stage         Stage          `json:"stage"`
	Progress      int            `json:"progress"`
	Message       string         `json:"message"`
	ProcessedRows *int           `json:"processedRows,omitempty"`
	TotalRows     *int           `json:"totalRows,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}
