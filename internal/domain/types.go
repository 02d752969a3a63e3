package domain

// JobStatus tracks each stage of a single extraction run.
type JobStatus string

const (
	JobStatusIdle          JobStatus = "idle"
	JobStatusLoading       JobStatus = "loading"
	JobStatusTranscoding   JobStatus = "transcoding"
	JobStatusMaterializing JobStatus = "materializing"
	JobStatusDone          JobStatus = "done"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
)

// PipelineKind selects one of the supported transformations.
type PipelineKind string

const (
	PipelineExtractAudio PipelineKind = "extract-audio"
	PipelinePreview      PipelineKind = "preview"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	FFmpegPath     string  `json:"ffmpegPath"`
	ExportDir      string  `json:"exportDir"`
	CoverWidth     int     `json:"coverWidth"`
	PreviewSeconds float64 `json:"previewSeconds"`
	PreviewFPS     int     `json:"previewFps"`
	PreviewWidth   int     `json:"previewWidth"`
	LogLevel       string  `json:"logLevel"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID       string       `json:"id"`
	Pipeline PipelineKind `json:"pipeline,omitempty"`
	Status   JobStatus    `json:"status"`
}

// Resource describes a materialized output the UI can play or download.
type Resource struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

// AudioTags summarizes metadata read back from an extracted audio file.
type AudioTags struct {
	Format   string `json:"format"`
	HasCover bool   `json:"hasCover"`
	Lyrics   string `json:"lyrics,omitempty"`
}
