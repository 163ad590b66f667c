// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/clarimeet/clarimeet/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// keepAliveInterval keeps the socket open while no audio flows (Deepgram
	// closes idle streams after about ten seconds).
	keepAliveInterval = 5 * time.Second

	// defaultCloseTimeout bounds how long Close waits for the final results
	// after CloseStream has been sent.
	defaultCloseTimeout = 5 * time.Second

	// readLimit is the largest inbound message accepted.
	readLimit = 1 << 20
)

var (
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithInterimResults toggles interim (non-final) results. Default: true.
func WithInterimResults(enabled bool) Option {
	return func(p *Provider) {
		p.interim = enabled
	}
}

// WithEndpoint overrides the streaming endpoint URL. Used by tests and for
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithCloseTimeout sets how long Close waits for the service to flush the
// final results. Default: 5s.
func WithCloseTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.closeTimeout = d
		}
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey       string
	model        string
	language     string
	sampleRate   int
	interim      bool
	endpoint     string
	closeTimeout time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		interim:      true,
		endpoint:     deepgramEndpoint,
		closeTimeout: defaultCloseTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Channels, cfg.Encoding, cfg.Language and
// cfg.Keywords. The session lives until Close is called or ctx is cancelled.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sess := &session{
		conn:         conn,
		transcripts:  make(chan stt.Transcript, 64),
		audio:        make(chan []byte, 4),
		closing:      make(chan struct{}),
		readDone:     make(chan struct{}),
		abort:        make(chan struct{}),
		closeTimeout: p.closeTimeout,
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = stt.EncodingLinear16
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(p.interim))

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Clarimeet:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn        *websocket.Conn
	transcripts chan stt.Transcript
	audio       chan []byte

	closing   chan struct{} // closed by Close: no more audio, flush and finish
	readDone  chan struct{} // closed when readLoop returns
	abort     chan struct{} // closed when Close gives up waiting for the flush
	closeOnce sync.Once
	wg        sync.WaitGroup

	closeTimeout time.Duration

	errMu sync.Mutex
	err   error
}

// SendAudio hands a PCM chunk to the write loop. It blocks while the small
// internal queue is full, which propagates socket backpressure to the caller.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return stt.ErrSessionClosed
	case <-s.readDone:
		return s.closedErr()
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return stt.ErrSessionClosed
	case <-s.readDone:
		return s.closedErr()
	}
}

// Transcripts returns the ordered channel of interim and final results.
func (s *session) Transcripts() <-chan stt.Transcript { return s.transcripts }

// Err returns the failure that ended the session, if any.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) closedErr() error {
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: %w", stt.ErrSessionClosed, err)
	}
	return stt.ErrSessionClosed
}

// fail records the first failure and tears down the connection so that both
// loops return.
func (s *session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.conn.Close(websocket.StatusInternalError, "stream failed")
}

func (s *session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// Close ends the session. It asks Deepgram to flush via CloseStream, waits up
// to the close timeout for the server to finish, then closes the socket.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		select {
		case <-s.readDone:
		case <-time.After(s.closeTimeout):
			close(s.abort)
		}
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop sends queued audio as binary messages and keeps the stream alive
// while no audio flows. On Close it flushes the queue and sends CloseStream.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				if !s.isClosing() && ctx.Err() == nil {
					s.fail(fmt.Errorf("deepgram: write audio: %w", err))
				}
				return
			}
			keepAlive.Reset(keepAliveInterval)

		case <-keepAlive.C:
			if err := s.conn.Write(ctx, websocket.MessageText, keepAliveMsg); err != nil {
				if !s.isClosing() && ctx.Err() == nil {
					s.fail(fmt.Errorf("deepgram: write keepalive: %w", err))
				}
				return
			}

		case <-s.closing:
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = s.conn.Write(ctx, websocket.MessageText, closeStreamMsg)
			return

		case <-s.readDone:
			return

		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and forwards parsed results,
// in order, on the transcripts channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.readDone)
	defer close(s.transcripts)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// A normal close, our own Close, or cancellation ends the session
			// quietly. Anything else is a mid-stream failure.
			if !s.isClosing() && ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.fail(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		select {
		case s.transcripts <- t:
		case <-s.abort:
			return
		case <-ctx.Done():
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Start:      seconds(resp.Start),
		Duration:   seconds(resp.Duration),
	}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
