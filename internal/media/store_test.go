package media

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "ringrelay/internal/errors"
)

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, _ := io.ReadAll(reader)
	args := m.Called(bucketName, objectName, body, objectSize, opts.ContentType)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, args.Error(0)
}

func newTestStore(putter objectPutter) *Store {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := newStore(putter, "chat-media", "https://media.example.com/", 1, logger)
	s.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }
	return s
}

func TestStore_UploadDataURI(t *testing.T) {
	putter := &mockPutter{}
	putter.On("PutObject", "chat-media", mock.AnythingOfType("string"), pngBytes, int64(len(pngBytes)), "image/png").Return(nil)

	s := newTestStore(putter)

	url, err := s.UploadDataURI(context.Background(), "auth0|user-7", dataURI("image/png", pngBytes))
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^https://media\.example\.com/chat-media/messages/auth0_user-7/2026/10/18/[0-9a-f-]{36}\.png$`)
	assert.Regexp(t, pattern, url)
	putter.AssertExpectations(t)
}

func TestStore_UploadRejectsBadImages(t *testing.T) {
	putter := &mockPutter{}
	s := newTestStore(putter)

	tests := []struct {
		name string
		uri  string
	}{
		{"malformed", "data:image/png;base64,!!!"},
		{"unsupported type", dataURI("image/svg+xml", []byte("<svg/>"))},
		{"over the size cap", dataURI("image/png", append(pngBytes, make([]byte, 2<<20)...))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UploadDataURI(context.Background(), "u1", tt.uri)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
		})
	}
	putter.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_UploadFailureOpensBreaker(t *testing.T) {
	putter := &mockPutter{}
	putter.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection refused"))

	s := newTestStore(putter)
	uri := dataURI("image/png", pngBytes)

	for i := 0; i < breakerMaxFailures; i++ {
		_, err := s.UploadDataURI(context.Background(), "u1", uri)
		require.True(t, apperrors.HasCode(err, apperrors.ErrCodeMediaUpload))
		assert.False(t, apperrors.IsRetryable(err))
	}
	putter.AssertNumberOfCalls(t, "PutObject", breakerMaxFailures)

	_, err := s.UploadDataURI(context.Background(), "u1", uri)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMediaUpload))
	assert.True(t, apperrors.IsRetryable(err), "an open breaker is worth retrying later")
	putter.AssertNumberOfCalls(t, "PutObject", breakerMaxFailures)
}
