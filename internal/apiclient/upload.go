package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// UploadStage names a step of a multipart upload.
type UploadStage string

const (
	UploadStagePreparing  UploadStage = "preparing"
	UploadStageUploading  UploadStage = "uploading"
	UploadStageProcessing UploadStage = "processing"
	UploadStageCompleted  UploadStage = "completed"
	UploadStageFailed     UploadStage = "failed"
)

func (stage UploadStage) final() bool {
	return stage == UploadStageCompleted || stage == UploadStageFailed
}

// UploadProgress is the observable state of an upload.
type UploadProgress struct {
	Stage      UploadStage
	Percent    int
	BytesSent  int64
	BytesTotal int64
	Message    string
}

// UploadFile is one file part of a multipart upload.
type UploadFile struct {
	FieldName string
	FileName  string
	Content   io.Reader
}

// UploadRequest describes a single-shot multipart upload.
type UploadRequest struct {
	Path     string
	Fields   map[string]string
	Files    []UploadFile
	Progress func(UploadProgress) // called serially, never after a final stage
}

// Upload posts a multipart form outside the JSON client: the bearer token is
// read straight from the token store, no refresh is attempted, and the whole
// transfer is bounded by the upload timeout.
func (client *Client) Upload(ctx context.Context, upload UploadRequest) error {
	tracker := &progressTracker{report: upload.Progress}
	tracker.set(UploadProgress{Stage: UploadStagePreparing})

	body, contentType, err := encodeMultipart(upload)
	if err != nil {
		return client.failUpload(tracker, "", fmt.Errorf("apiclient.upload.encode: %w", err))
	}

	uploadCtx, cancel := context.WithTimeout(ctx, client.uploadTimeout)
	defer cancel()

	total := int64(body.Len())
	reader := &countingReader{reader: body, total: total, tracker: tracker}
	request, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, client.resolve(upload.Path, nil), reader)
	if err != nil {
		return client.failUpload(tracker, "", fmt.Errorf("apiclient.upload.request: %w", err))
	}
	request.ContentLength = total
	request.Header.Set(headerContentType, contentType)
	request.Header.Set(headerTunnelBypass, "true")
	if credentials, loadErr := client.sessions.Load(ctx); loadErr == nil && strings.TrimSpace(credentials.AccessToken) != "" {
		request.Header.Set(headerAuthorization, "Bearer "+credentials.AccessToken)
	}

	tracker.set(UploadProgress{Stage: UploadStageUploading, BytesTotal: total})
	response, err := client.uploadClient.Do(request)
	if err != nil {
		if isTimeout(uploadCtx, ctx) {
			return client.failUpload(tracker, UploadTimeoutMessage, fmt.Errorf("%w: %w", ErrUploadTimeout, err))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return client.failUpload(tracker, "", ctxErr)
		}
		return client.failUpload(tracker, UploadNetworkMessage, fmt.Errorf("%w: %w", ErrUploadNetwork, err))
	}

	tracker.set(UploadProgress{Stage: UploadStageProcessing, Percent: 100, BytesSent: total, BytesTotal: total})
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiError := newAPIError(response)
		return client.failUpload(tracker, UserMessage(apiError), apiError)
	}
	if err := decodeEnvelope(response, nil); err != nil {
		if isTimeout(uploadCtx, ctx) {
			return client.failUpload(tracker, UploadTimeoutMessage, fmt.Errorf("%w: %w", ErrUploadTimeout, err))
		}
		return client.failUpload(tracker, UserMessage(err), err)
	}
	tracker.set(UploadProgress{Stage: UploadStageCompleted, Percent: 100, BytesSent: total, BytesTotal: total})
	client.metrics.Increment(metricUploadCompleted)
	return nil
}

func (client *Client) failUpload(tracker *progressTracker, message string, err error) error {
	if message == "" {
		message = UserMessage(err)
	}
	current := tracker.snapshot()
	current.Stage = UploadStageFailed
	current.Message = message
	tracker.set(current)
	client.metrics.Increment(metricUploadFailed)
	client.logger.Warn("upload failed",
		zap.String("code", "apiclient.upload.failed"),
		zap.Bool("timeout", errors.Is(err, ErrUploadTimeout)),
		zap.Error(err))
	return err
}

func encodeMultipart(upload UploadRequest) (*bytes.Buffer, string, error) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	for name, value := range upload.Fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range upload.Files {
		part, err := writer.CreateFormFile(file.FieldName, file.FileName)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buffer, writer.FormDataContentType(), nil
}

// progressTracker reports stages in order. Once failed or completed it ignores
// further updates, such as a late read by the transport's body writer.
type progressTracker struct {
	mutex   sync.Mutex
	current UploadProgress
	report  func(UploadProgress)
}

func (tracker *progressTracker) set(progress UploadProgress) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	if tracker.current.Stage.final() {
		return
	}
	if progress.Stage == UploadStageUploading && tracker.current.Stage == UploadStageProcessing {
		return
	}
	tracker.current = progress
	if tracker.report != nil {
		tracker.report(progress)
	}
}

func (tracker *progressTracker) snapshot() UploadProgress {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	return tracker.current
}

type countingReader struct {
	reader  io.Reader
	total   int64
	sent    int64
	percent int
	tracker *progressTracker
}

func (counter *countingReader) Read(buffer []byte) (int, error) {
	read, err := counter.reader.Read(buffer)
	if read > 0 && counter.total > 0 {
		counter.sent += int64(read)
		percent := int(counter.sent * 100 / counter.total)
		if percent != counter.percent {
			counter.percent = percent
			counter.tracker.set(UploadProgress{
				Stage:      UploadStageUploading,
				Percent:    percent,
				BytesSent:  counter.sent,
				BytesTotal: counter.total,
			})
		}
	}
	return read, err
}
