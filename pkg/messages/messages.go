// Package messages centralizes log and response message literals so they can be
// reused across the code-base and kept consistent. Constants are grouped by
// functional area.
package messages

// Log and response message constants.
const (
	// Slot registry
	MsgSlotIssued    = "upload slot issued"
	MsgSlotConsumed  = "upload slot consumed"
	MsgSlotsSwept    = "expired upload slots removed"
	MsgSlotSweepStop = "slot sweeper stopped"

	// Upload ingestor
	MsgFilePartStarted  = "file part started"
	MsgFilePartFinished = "file part finished"
	MsgFormParsed       = "done parsing form"
	MsgFilesLimit       = "files limit reached"
	MsgFieldsLimit      = "fields limit reached"
	MsgContentMismatch  = "declared type does not match content"

	// Compression adapter
	MsgCodecStarted      = "running codec"
	MsgCodecKeptOriginal = "codec output not smaller, keeping original"
	MsgOptimized         = "optimized"

	// Result cache
	MsgResultStored   = "result stored"
	MsgResultConsumed = "result consumed"
	MsgResultExpired  = "result expired"

	// HTTP front
	MsgRequestServed   = "http request served"
	MsgRequestFailed   = "http request failed"
	MsgServerListening = "listening for requests"
	MsgServerStopping  = "shutting down server"
	MsgStaticNotFound  = "static file not found"

	// Client-facing texts
	RespQueueFull         = "Queue is full. Please wait."
	RespQueueFullResubmit = "Queue is full. Please wait and re-submit."
	RespFilesLimit        = "Please upload a single file."
	RespFieldsLimit       = "Unexpected form fields were sent."
	RespNotFound          = "Not found."
)
