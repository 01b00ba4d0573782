// Package transcribe turns WhatsApp voice notes into text through the Google
// Speech-to-Text REST API. Failures are logged and reported as an empty
// transcript; a turn is never aborted because audio could not be understood.
package transcribe

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const recognizeURL = "https://speech.googleapis.com/v1/speech:recognize"

// IsAudioMediaType reports whether a Twilio media content type is a voice
// recording. WhatsApp voice notes arrive as audio/ogg (opus).
func IsAudioMediaType(mediaType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(strings.Split(mediaType, ";")[0]))
	return strings.HasPrefix(normalized, "audio/") || normalized == "application/ogg"
}

var encodingByType = map[string]string{
	"audio/ogg":              "OGG_OPUS",
	"audio/ogg; codecs=opus": "OGG_OPUS",
	"audio/opus":             "OGG_OPUS",
	"application/ogg":        "OGG_OPUS",
	"audio/mpeg":             "MP3",
	"audio/mp3":              "MP3",
	"audio/wav":              "LINEAR16",
	"audio/x-wav":            "LINEAR16",
	"audio/flac":             "FLAC",
	"audio/amr":              "AMR",
	"audio/amr-wb":           "AMR_WB",
}

var sampleRateByEncoding = map[string]int{
	"OGG_OPUS": 48000,
	"AMR":      8000,
	"AMR_WB":   16000,
	"LINEAR16": 16000,
	"FLAC":     16000,
	"MP3":      16000,
}

// WhatsApp opus notes are usually 16 kHz but the container does not say so;
// the service rejects a wrong rate with InvalidArgument, so likely rates are
// tried in order.
var opusSampleRates = []int{16000, 24000, 12000, 48000, 8000}

type Client struct {
	rest     *resty.Client
	endpoint string
	apiKey   string
	language string
}

func NewClient(apiKey, language string, timeout time.Duration) *Client {
	return &Client{
		rest:     resty.New().SetTimeout(timeout),
		endpoint: recognizeURL,
		apiKey:   apiKey,
		language: language,
	}
}

type recognitionConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz,omitempty"`
	LanguageCode               string `json:"languageCode"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	Model                      string `json:"model"`
	AudioChannelCount          int    `json:"audioChannelCount"`
}

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe recognizes the audio content and returns the transcript, or ""
// when recognition failed or produced nothing.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mediaType string) string {
	if len(audio) == 0 || c.apiKey == "" {
		return ""
	}

	encoding, rates := resolveEncoding(mediaType)
	for i, rate := range rates {
		text, retryable, err := c.recognize(ctx, audio, encoding, rate)
		if err != nil {
			if retryable {
				log.Warn().Err(err).Str("media_type", mediaType).Int("sample_rate", rate).
					Msg("speech api rejected sample rate, trying fallback")
				continue
			}
			log.Error().Err(err).Str("media_type", mediaType).Msg("transcription failed")
			return ""
		}
		if text != "" {
			return text
		}
		if i < len(rates)-1 {
			log.Debug().Int("attempt", i+1).Int("of", len(rates)).Msg("no speech results, trying next configuration")
		}
	}
	return ""
}

func resolveEncoding(mediaType string) (string, []int) {
	raw := strings.ToLower(strings.TrimSpace(mediaType))
	normalized := strings.TrimSpace(strings.Split(raw, ";")[0])

	encoding, ok := encodingByType[raw]
	if !ok {
		encoding, ok = encodingByType[normalized]
	}
	if !ok {
		log.Warn().Str("media_type", mediaType).Msg("unmapped audio content type, assuming OGG_OPUS")
		encoding = "OGG_OPUS"
	}

	if encoding == "OGG_OPUS" {
		return encoding, opusSampleRates
	}
	if rate, ok := sampleRateByEncoding[encoding]; ok {
		return encoding, []int{rate, 0} // 0 lets the service infer from the header
	}
	return encoding, []int{0}
}

func (c *Client) recognize(ctx context.Context, audio []byte, encoding string, sampleRate int) (text string, retryable bool, err error) {
	req := recognizeRequest{
		Config: recognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            sampleRate,
			LanguageCode:               c.language,
			EnableAutomaticPunctuation: true,
			Model:                      "default",
			AudioChannelCount:          1,
		},
	}
	req.Audio.Content = base64.StdEncoding.EncodeToString(audio)

	var out recognizeResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(c.endpoint)
	if err != nil {
		return "", false, fmt.Errorf("speech recognize: %w", err)
	}
	if resp.IsError() {
		status := ""
		if out.Error != nil {
			status = out.Error.Status
		}
		return "", status == "INVALID_ARGUMENT", fmt.Errorf("speech recognize: http %d %s", resp.StatusCode(), status)
	}

	var parts []string
	for _, r := range out.Results {
		if len(r.Alternatives) > 0 {
			if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), false, nil
}
