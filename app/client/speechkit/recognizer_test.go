package speechkit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
	"v2v/app/config"
	"v2v/app/service/capture"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSession struct {
	mu      sync.Mutex
	config  bool
	chunks  [][]byte
	closed  bool
	results [][]string
	recvErr error
	ctx     context.Context
}

func (f *fakeSession) SendConfig() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.config = true
	return nil
}

func (f *fakeSession) Send(content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.chunks = append(f.chunks, append([]byte(nil), content...))
	return nil
}

func (f *fakeSession) Recv() ([]string, error) {
	f.mu.Lock()
	if len(f.results) > 0 {
		next := f.results[0]
		f.results = f.results[1:]
		f.mu.Unlock()
		return next, nil
	}
	recvErr := f.recvErr
	f.mu.Unlock()

	if recvErr != nil {
		return nil, recvErr
	}

	<-f.ctx.Done()
	return nil, f.ctx.Err()
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

type blockingReader struct {
	ctx  context.Context
	once sync.Once
}

func (r *blockingReader) Read(p []byte) (int, error) {
	sent := false
	r.once.Do(func() { sent = true })
	if sent {
		return copy(p, "pcm"), nil
	}

	<-r.ctx.Done()
	return 0, io.EOF
}

type fakeMic struct {
	reader  *blockingReader
	stopped bool
}

func (m *fakeMic) Start() error     { return nil }
func (m *fakeMic) Audio() io.Reader { return m.reader }
func (m *fakeMic) Stop() error {
	m.stopped = true
	return nil
}

func newTestRecognizer(sess *fakeSession, mic *fakeMic, maxDuration time.Duration) *Recognizer {
	return &Recognizer{
		cfg: config.Capture{MaxDuration: maxDuration},
		openSession: func(ctx context.Context) (session, error) {
			sess.ctx = ctx
			return sess, nil
		},
		openAudio: func(ctx context.Context) (audioSource, error) {
			mic.reader = &blockingReader{ctx: ctx}
			return mic, nil
		},
	}
}

func TestRecognizeReturnsFirstFinalPhrase(t *testing.T) {
	sess := &fakeSession{results: [][]string{nil, {"Привет", "привет"}, {"лишнее"}}}
	mic := &fakeMic{}

	text, err := newTestRecognizer(sess, mic, time.Second).Recognize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Привет", text)
	assert.True(t, sess.config)
	assert.True(t, sess.closed)
	assert.True(t, mic.stopped)
}

func TestRecognizeTimesOut(t *testing.T) {
	sess := &fakeSession{}
	mic := &fakeMic{}

	_, err := newTestRecognizer(sess, mic, 50*time.Millisecond).Recognize(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, mic.stopped)
}

func TestRecognizeMapsPermissionDenied(t *testing.T) {
	sess := &fakeSession{recvErr: status.Error(codes.PermissionDenied, "no access to folder")}

	_, err := newTestRecognizer(sess, &fakeMic{}, time.Second).Recognize(context.Background())
	assert.ErrorIs(t, err, capture.ErrDenied)
}

func TestRecognizeOtherErrors(t *testing.T) {
	sess := &fakeSession{recvErr: status.Error(codes.Unavailable, "connection reset")}

	_, err := newTestRecognizer(sess, &fakeMic{}, time.Second).Recognize(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, capture.ErrDenied))
}

func TestRecognizeSessionOpenFailure(t *testing.T) {
	r := &Recognizer{
		cfg: config.Capture{MaxDuration: time.Second},
		openSession: func(context.Context) (session, error) {
			return nil, status.Error(codes.Unauthenticated, "bad key")
		},
	}

	_, err := r.Recognize(context.Background())
	assert.ErrorIs(t, err, capture.ErrDenied)
}
