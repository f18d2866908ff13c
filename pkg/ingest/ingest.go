// Package ingest reads a multipart upload into memory and validates it before
// anything is handed to a codec.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/messages"
)

// Supported image types.
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeGIF  = "image/gif"
)

const chunkSize = 32 * 1024

// IsImageType reports whether mimeType is one the service compresses.
func IsImageType(mimeType string) bool {
	switch mimeType {
	case MimeJPEG, MimePNG, MimeGIF:
		return true
	}
	return false
}

// Limits bounds what a single upload may contain.
type Limits struct {
	// MaxFileSize is the cap in bytes for the file part; <= 0 means unbounded.
	MaxFileSize int64
	MaxFiles    int
	MaxFields   int
}

// DefaultLimits accepts one file of any size and no fields.
func DefaultLimits() Limits {
	return Limits{MaxFileSize: -1, MaxFiles: 1, MaxFields: 0}
}

// Upload is a fully received, validated file.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

// Size is the number of bytes received.
func (u *Upload) Size() int {
	return len(u.Data)
}

// Ingestor parses upload requests.
type Ingestor struct {
	limits        Limits
	verifyContent bool
	logger        *logging.Logger
}

// NewIngestor creates an Ingestor. With verifyContent the buffered bytes must
// sniff as the declared image type.
func NewIngestor(limits Limits, verifyContent bool, logger *logging.Logger) *Ingestor {
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = 1
	}
	if limits.MaxFields < 0 {
		limits.MaxFields = 0
	}
	return &Ingestor{limits: limits, verifyContent: verifyContent, logger: logger}
}

// Limits returns the configured limits.
func (i *Ingestor) Limits() Limits {
	return i.limits
}

// Ingest reads the upload from an HTTP request.
func (i *Ingestor) Ingest(ctx context.Context, req *http.Request) (*Upload, error) {
	return i.Read(ctx, req.Body, req.Header.Get("Content-Type"))
}

// Read consumes a multipart/form-data body. It returns only after the whole
// stream has been read, so no bytes reach a codec before the part is complete.
func (i *Ingestor) Read(ctx context.Context, body io.Reader, contentType string) (*Upload, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		return nil, apperrors.NewMalformedUploadError(err).WithContext("content_type", contentType)
	}

	br := &bodyReader{r: body}
	reader := multipart.NewReader(br, params["boundary"])
	var upload *Upload
	files, fields := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewTruncatedUploadError(err)
		}

		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, br.classify(err)
		}

		if !isFilePart(part) && part.FormName() != "" {
			fields++
			part.Close()
			if fields > i.limits.MaxFields {
				i.logger.Info(messages.MsgFieldsLimit, "field", part.FormName())
				return nil, apperrors.NewFieldsLimitError()
			}
			continue
		}

		files++
		if files > i.limits.MaxFiles {
			part.Close()
			i.logger.Info(messages.MsgFilesLimit, "files", files)
			return nil, apperrors.NewFilesLimitError()
		}

		upload, err = i.readFile(ctx, part, br.classify)
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	i.logger.Debug(messages.MsgFormParsed, "files", files, "fields", fields)

	if upload == nil || len(upload.Data) == 0 {
		return nil, apperrors.NewEmptyFileError()
	}

	if i.verifyContent {
		detected := mimetype.Detect(upload.Data)
		if !detected.Is(upload.MimeType) {
			i.logger.Warn(messages.MsgContentMismatch, "declared", upload.MimeType, "detected", detected.String())
			return nil, apperrors.NewUnsupportedMediaTypeError(detected.String()).
				WithContext("declared", upload.MimeType)
		}
	}

	return upload, nil
}

func (i *Ingestor) readFile(ctx context.Context, part *multipart.Part, classify func(error) error) (*Upload, error) {
	declared := part.Header.Get("Content-Type")
	mimeType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mimeType = declared
	}

	i.logger.Info(messages.MsgFilePartStarted, "field", part.FormName(), "filename", part.FileName(), "mimetype", mimeType)

	if !IsImageType(mimeType) {
		return nil, apperrors.NewUnsupportedMediaTypeError(mimeType)
	}

	data, err := accumulate(ctx, part, i.limits.MaxFileSize, classify)
	if err != nil {
		return nil, err
	}

	i.logger.Info(messages.MsgFilePartFinished, "filename", part.FileName(), "bytes", len(data))
	return &Upload{Filename: part.FileName(), MimeType: mimeType, Data: data}, nil
}

// accumulate reads r chunk by chunk in arrival order. Reading past maxSize, a
// broken stream or a cancelled context discard everything read so far.
func accumulate(ctx context.Context, r io.Reader, maxSize int64, classify func(error) error) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewTruncatedUploadError(err)
		}

		n, err := r.Read(chunk)
		if n > 0 {
			if maxSize > 0 && int64(buf.Len()+n) > maxSize {
				return nil, apperrors.NewTruncatedUploadError(nil).WithContext("max_file_size", maxSize)
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, classify(err)
		}
	}
}

// isFilePart reports whether the part's Content-Disposition carries a filename
// parameter. A browser sends filename="" when no file was chosen, which is
// still a file part.
func isFilePart(part *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return part.FileName() != ""
	}
	_, ok := params["filename"]
	return ok
}

// bodyReader keeps the first non-EOF error returned by the underlying body.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF && b.err == nil {
		b.err = err
	}
	return n, err
}

// classify treats any failure of the body itself, such as a dropped
// connection, as truncation. Other errors come from multipart parsing.
func (b *bodyReader) classify(err error) error {
	if b.err != nil {
		return apperrors.NewTruncatedUploadError(err)
	}
	return classifyReadError(err)
}

// classifyReadError maps a failed read to truncation when the stream ended
// early. A wrapped io.EOF from NextPart means the closing boundary never came.
func classifyReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.As(err, &maxErr) {
		return apperrors.NewTruncatedUploadError(err)
	}
	return apperrors.NewMalformedUploadError(err)
}
