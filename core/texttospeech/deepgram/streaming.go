package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-gateway/core/audio"
	"github.com/koscakluka/ema-gateway/core/texttospeech"
)

type streamingRequest struct {
	ws *websocket.Conn
	mu sync.Mutex

	textBuffered bool
	textMu       sync.Mutex

	options streamingRequestOptions

	textComplete bool
	cancelled    bool
	closed       bool

	report texttospeech.SpeechEndedReport
}

type streamingRequestOptions struct {
	texttospeech.TextToSpeechOptions
	Voice deepgramVoice
}

func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error) {
	req := &streamingRequest{
		options: streamingRequestOptions{
			TextToSpeechOptions: texttospeech.TextToSpeechOptions{
				SpeechAudioCallback: func([]byte) {},
				SpeechEndedCallback: func(texttospeech.SpeechEndedReport) {},
				ErrorCallback:       func(error) {},
				EncodingInfo:        audio.GetDefaultEncodingInfo(),
			},
			Voice: c.voice,
		},
	}

	for _, opt := range opts {
		opt(&req.options.TextToSpeechOptions)
	}

	var err error
	if req.ws, err = connectWebsocket(req.options.Voice, req.options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go req.processIncomingMessages(ctx)

	return req, nil
}

func connectWebsocket(voice deepgramVoice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	// TODO: Allow passing API key in constructor
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (r *streamingRequest) processIncomingMessages(ctx context.Context) {
	for {
		msgType, msg, err := r.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.WarnContext(ctx, "Websocket read error", "error", err)
				r.options.ErrorCallback(err)
			}
			if err := r.Cancel(); err != nil {
				_ = r.Close() // Ignored on purpose
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) > 0 {
				r.report.AudioBytes += len(msg)
				r.options.SpeechAudioCallback(msg)
			}
		case websocket.TextMessage:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.WarnContext(ctx, "Failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				func() { // Grouped for defer
					r.textMu.Lock()
					defer r.textMu.Unlock()

					if r.textComplete {
						r.options.SpeechEndedCallback(r.report)
						_ = r.Close()
					}
				}()
			}
		}
	}
}

func (r *streamingRequest) SendText(text string) error {
	if r.closed {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete {
		return fmt.Errorf("streaming request text already completed")
	}

	r.textMu.Lock()
	defer r.textMu.Unlock()

	if err := r.sendWebsocketMessage(sendTextMsg(text)); err != nil {
		return fmt.Errorf("failed to send websocket send text message: %w", err)
	}
	r.textBuffered = true
	return nil
}

func (r *streamingRequest) EndOfText() error {
	if r.closed {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		return fmt.Errorf("streaming request cancelled")
	}
	r.textMu.Lock()
	defer r.textMu.Unlock()

	if r.textComplete {
		return nil
	}
	r.textComplete = true

	if !r.textBuffered {
		r.options.SpeechEndedCallback(r.report)
		return r.Close()
	}

	if err := r.sendWebsocketMessage(flushMsg); err != nil {
		return fmt.Errorf("failed to send websocket flush message: %w", err)
	}
	return nil
}

func (r *streamingRequest) Cancel() error {
	if r.closed {
		return fmt.Errorf("streaming request closed")
	}
	if r.cancelled {
		return nil
	}

	r.cancelled = true
	if err := r.sendWebsocketMessage(clearMsg); err != nil {
		return fmt.Errorf("failed to send websocket clear message: %w", err)
	}

	_ = r.Close()
	return nil
}

func (r *streamingRequest) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.ws == nil {
		return nil
	}
	if err := r.sendCloseMessage(); err != nil {
		if agressiveCloseErr := r.ws.Close(); agressiveCloseErr != nil {
			return fmt.Errorf("failed to close websocket: %w", errors.Join(err, agressiveCloseErr))
		}
	}
	return nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

var (
	sendTextMsg = func(text string) struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} {
		return struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{Type: "Speak", Text: text}
	}
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (r *streamingRequest) sendWebsocketMessage(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := r.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

func (r *streamingRequest) sendCloseMessage() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := r.ws.WriteJSON(closeMsg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
