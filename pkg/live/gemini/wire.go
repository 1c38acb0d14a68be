package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

// Client messages of the BidiGenerateContent protocol.

type clientSetup struct {
	Setup struct {
		Model             string    `json:"model"`
		Generation        genCfg    `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
		InputTranscript   *struct{} `json:"inputAudioTranscription,omitempty"`
		OutputTranscript  *struct{} `json:"outputAudioTranscription,omitempty"`
	} `json:"setup"`
}

type genCfg struct {
	ResponseModalities []string   `json:"responseModalities"`
	Speech             *speechCfg `json:"speechConfig,omitempty"`
}

type speechCfg struct {
	Voice struct {
		Prebuilt struct {
			Name string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type clientAudio struct {
	RealtimeInput struct {
		MediaChunks []blob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob is base64 media tagged with its MIME type.
type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// newSetup builds the first message of a session.
func newSetup(model string, cfg live.SessionConfig) clientSetup {
	var m clientSetup
	m.Setup.Model = "models/" + model
	m.Setup.Generation.ResponseModalities = []string{"AUDIO"}
	if cfg.Instructions != "" {
		m.Setup.SystemInstruction = &content{Parts: []contentPart{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		sc := &speechCfg{}
		sc.Voice.Prebuilt.Name = cfg.Voice
		m.Setup.Generation.Speech = sc
	}
	if cfg.InputTranscription {
		m.Setup.InputTranscript = &struct{}{}
	}
	if cfg.OutputTranscription {
		m.Setup.OutputTranscript = &struct{}{}
	}
	return m
}

// newAudio wraps one microphone frame. Frames without a format are assumed
// to be in [audio.CaptureFormat].
func newAudio(frame audio.AudioFrame) clientAudio {
	f := audio.Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if f.SampleRate == 0 {
		f = audio.CaptureFormat
	}
	var m clientAudio
	m.RealtimeInput.MediaChunks = []blob{{
		MIMEType: f.MIMEType(),
		Data:     base64.StdEncoding.EncodeToString(frame.Data),
	}}
	return m
}

// Server messages. Only the fields Parley acts on are decoded.

type serverMsg struct {
	SetupComplete json.RawMessage `json:"setupComplete,omitempty"`
	Content       *serverContent  `json:"serverContent,omitempty"`
	GoAway        *goAway         `json:"goAway,omitempty"`
	Error         *serverError    `json:"error,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn           *content `json:"modelTurn,omitempty"`
	TurnComplete        bool     `json:"turnComplete,omitempty"`
	Interrupted         bool     `json:"interrupted,omitempty"`
	InputTranscription  *text    `json:"inputTranscription,omitempty"`
	OutputTranscription *text    `json:"outputTranscription,omitempty"`
}

type text struct {
	Text string `json:"text"`
}

// serverError is an error frame sent by the service. It ends the session.
type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *serverError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("gemini: server error %d: %s", e.Code, msg)
	}
	return "gemini: server error: " + msg
}

// events translates one serverContent into live events in delivery order.
// An interrupt comes first so stale audio is flushed before anything else
// carried by the same message. Parts without inline audio are skipped.
func (sc *serverContent) events() []live.Event {
	var evs []live.Event
	if sc.Interrupted {
		evs = append(evs, live.Event{Kind: live.EventInterrupted})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				slog.Debug("gemini: undecodable audio part", "err", err)
				continue
			}
			if len(pcm) == 0 {
				continue
			}
			evs = append(evs, live.Event{
				Kind:       live.EventAudio,
				Audio:      pcm,
				SampleRate: audio.ParseRate(p.InlineData.MIMEType),
			})
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		evs = append(evs, live.Event{Kind: live.EventInputTranscript, Text: t.Text})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		evs = append(evs, live.Event{Kind: live.EventOutputTranscript, Text: t.Text})
	}
	return evs
}
