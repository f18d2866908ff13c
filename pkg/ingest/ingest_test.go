package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/testimages"
)

func newIngestor(limits Limits, verify bool) *Ingestor {
	return NewIngestor(limits, verify, logging.NewTestLogger())
}

func TestReadSingleFile(t *testing.T) {
	for name, tc := range map[string]struct {
		mimeType string
		data     []byte
	}{
		"png":  {MimePNG, testimages.PNG(16, 16)},
		"jpeg": {MimeJPEG, testimages.JPEG(16, 16)},
		"gif":  {MimeGIF, testimages.GIF(16, 16)},
	} {
		t.Run(name, func(t *testing.T) {
			body, ctype := testimages.Multipart(testimages.File("pic."+name, tc.mimeType, tc.data))

			up, err := newIngestor(DefaultLimits(), true).Read(context.Background(), bytes.NewReader(body), ctype)
			require.NoError(t, err)
			assert.Equal(t, "pic."+name, up.Filename)
			assert.Equal(t, tc.mimeType, up.MimeType)
			assert.Equal(t, tc.data, up.Data)
			assert.Equal(t, len(tc.data), up.Size())
		})
	}
}

func TestReadAccumulatesSmallChunks(t *testing.T) {
	data := testimages.PadTo(testimages.PNG(32, 32), 100_000)
	body, ctype := testimages.Multipart(testimages.File("big.png", MimePNG, data))

	up, err := newIngestor(DefaultLimits(), true).Read(context.Background(), iotest.HalfReader(bytes.NewReader(body)), ctype)
	require.NoError(t, err)
	assert.Len(t, up.Data, 100_000)
	assert.True(t, bytes.Equal(data, up.Data), "bytes preserved in arrival order")
}

func TestIngestFromRequest(t *testing.T) {
	data := testimages.PNG(8, 8)
	body, ctype := testimages.Multipart(testimages.File("r.png", MimePNG, data))
	req := httptest.NewRequest("POST", "/upload/t", bytes.NewReader(body))
	req.Header.Set("Content-Type", ctype)

	up, err := newIngestor(DefaultLimits(), true).Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, data, up.Data)
}

func TestDeclaredTypeParametersAreIgnored(t *testing.T) {
	data := testimages.GIF(4, 4)
	body, ctype := testimages.Multipart(testimages.File("a.gif", "image/gif; charset=binary", data))

	up, err := newIngestor(DefaultLimits(), true).Read(context.Background(), bytes.NewReader(body), ctype)
	require.NoError(t, err)
	assert.Equal(t, MimeGIF, up.MimeType)
}

func TestReadRejections(t *testing.T) {
	png := testimages.PNG(8, 8)

	cases := []struct {
		name   string
		limits Limits
		verify bool
		parts  []testimages.Part
		code   apperrors.ErrorCode
	}{
		{
			name:  "unsupported media type",
			parts: []testimages.Part{testimages.File("notes.txt", "text/plain", []byte("hello"))},
			code:  apperrors.ErrUnsupportedMediaType,
		},
		{
			name:  "missing content type",
			parts: []testimages.Part{testimages.File("blob", "", png)},
			code:  apperrors.ErrUnsupportedMediaType,
		},
		{
			name:  "empty file",
			parts: []testimages.Part{testimages.File("empty.png", MimePNG, nil)},
			code:  apperrors.ErrEmptyFile,
		},
		{
			name: "no file at all",
			code: apperrors.ErrEmptyFile,
		},
		{
			name:   "content does not match declared type",
			verify: true,
			parts:  []testimages.Part{testimages.File("fake.png", MimePNG, []byte("definitely not a png"))},
			code:   apperrors.ErrUnsupportedMediaType,
		},
		{
			name:   "too large",
			limits: Limits{MaxFileSize: int64(len(png) - 1)},
			parts:  []testimages.Part{testimages.File("big.png", MimePNG, png)},
			code:   apperrors.ErrTruncatedUpload,
		},
		{
			name: "second file",
			parts: []testimages.Part{
				testimages.File("one.png", MimePNG, png),
				testimages.File("two.png", MimePNG, png),
			},
			code: apperrors.ErrFilesLimitExceeded,
		},
		{
			name: "form field",
			parts: []testimages.Part{
				{Field: "title", Data: []byte("test")},
				testimages.File("one.png", MimePNG, png),
			},
			code: apperrors.ErrFieldsLimitExceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ctype := testimages.Multipart(tc.parts...)
			_, err := newIngestor(tc.limits, tc.verify).Read(context.Background(), bytes.NewReader(body), ctype)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperrors.Code(err), err.Error())
		})
	}
}

func TestMismatchAcceptedWithoutVerification(t *testing.T) {
	body, ctype := testimages.Multipart(testimages.File("fake.png", MimePNG, []byte("not a png")))

	up, err := newIngestor(DefaultLimits(), false).Read(context.Background(), bytes.NewReader(body), ctype)
	require.NoError(t, err)
	assert.Equal(t, []byte("not a png"), up.Data)
}

func TestLimitExactlyAtMaxSize(t *testing.T) {
	png := testimages.PNG(8, 8)
	body, ctype := testimages.Multipart(testimages.File("a.png", MimePNG, png))

	_, err := newIngestor(Limits{MaxFileSize: int64(len(png))}, true).Read(context.Background(), bytes.NewReader(body), ctype)
	assert.NoError(t, err)
}

func TestTruncatedStream(t *testing.T) {
	png := testimages.PNG(32, 32)
	body, ctype := testimages.Multipart(testimages.File("cut.png", MimePNG, png))

	t.Run("inside the file part", func(t *testing.T) {
		cut := body[:len(body)/2]
		_, err := newIngestor(DefaultLimits(), true).Read(context.Background(), bytes.NewReader(cut), ctype)
		assert.Equal(t, apperrors.ErrTruncatedUpload, apperrors.Code(err))
	})

	t.Run("reader error", func(t *testing.T) {
		r := failAfter(body, len(body)/2, iotest.ErrTimeout)
		_, err := newIngestor(DefaultLimits(), true).Read(context.Background(), r, ctype)
		assert.Equal(t, apperrors.ErrTruncatedUpload, apperrors.Code(err))
		assert.ErrorIs(t, err, iotest.ErrTimeout)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newIngestor(DefaultLimits(), true).Read(ctx, bytes.NewReader(body), ctype)
		assert.Equal(t, apperrors.ErrTruncatedUpload, apperrors.Code(err))
	})
}

// failAfter serves the first n bytes of data and then fails with err.
func failAfter(data []byte, n int, err error) io.Reader {
	return io.MultiReader(bytes.NewReader(data[:n]), iotest.ErrReader(err))
}

func TestConnectionDropMidUpload(t *testing.T) {
	png := testimages.PadTo(testimages.PNG(8, 8), 100000)
	body, ctype := testimages.Multipart(testimages.File("big.png", MimePNG, png))
	reset := errors.New("connection reset")

	for name, cut := range map[string]int{
		"inside the file part": 50000,
		"inside the headers":   100,
		"before the boundary":  len(body) - 10,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newIngestor(DefaultLimits(), false).Read(context.Background(), failAfter(body, cut, reset), ctype)
			assert.Equal(t, apperrors.ErrTruncatedUpload, apperrors.Code(err))
			assert.ErrorIs(t, err, reset)
		})
	}
}

// emptyFilePart builds the body a browser sends when the form is submitted
// without choosing a file.
func emptyFilePart(t *testing.T, contentType string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="upload"; filename=""`)
	h.Set("Content-Type", contentType)
	_, err := w.CreatePart(h)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func TestEmptyFilenameIsAFilePart(t *testing.T) {
	t.Run("octet-stream", func(t *testing.T) {
		body, ctype := emptyFilePart(t, "application/octet-stream")
		_, err := newIngestor(DefaultLimits(), true).Read(context.Background(), bytes.NewReader(body), ctype)
		require.Error(t, err)
		assert.False(t, apperrors.IsSoftLimit(err))
		assert.Equal(t, apperrors.ErrUnsupportedMediaType, apperrors.Code(err))
	})

	t.Run("image type", func(t *testing.T) {
		body, ctype := emptyFilePart(t, MimePNG)
		_, err := newIngestor(DefaultLimits(), true).Read(context.Background(), bytes.NewReader(body), ctype)
		assert.Equal(t, apperrors.ErrEmptyFile, apperrors.Code(err))
	})

	t.Run("no filename parameter", func(t *testing.T) {
		body, ctype := testimages.Multipart(testimages.Part{Field: "upload", ContentType: MimePNG})
		_, err := newIngestor(DefaultLimits(), true).Read(context.Background(), bytes.NewReader(body), ctype)
		assert.Equal(t, apperrors.ErrFieldsLimitExceeded, apperrors.Code(err))
	})
}

func TestMalformedRequests(t *testing.T) {
	ing := newIngestor(DefaultLimits(), true)

	_, err := ing.Read(context.Background(), bytes.NewReader([]byte("x")), "application/json")
	assert.Equal(t, apperrors.ErrMalformedUpload, apperrors.Code(err))

	_, err = ing.Read(context.Background(), bytes.NewReader([]byte("x")), "multipart/form-data")
	assert.Equal(t, apperrors.ErrMalformedUpload, apperrors.Code(err))
}

func TestIsImageType(t *testing.T) {
	assert.True(t, IsImageType("image/jpeg"))
	assert.True(t, IsImageType("image/png"))
	assert.True(t, IsImageType("image/gif"))
	assert.False(t, IsImageType("image/webp"))
	assert.False(t, IsImageType("text/plain"))
}

func TestNewIngestorNormalizesLimits(t *testing.T) {
	ing := NewIngestor(Limits{MaxFiles: 0, MaxFields: -3}, false, logging.NewTestLogger())
	assert.Equal(t, 1, ing.Limits().MaxFiles)
	assert.Equal(t, 0, ing.Limits().MaxFields)
}
