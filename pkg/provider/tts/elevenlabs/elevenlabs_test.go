package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/posecoach/pkg/provider/tts"
)

// ---- WebSocket message construction ----

func TestBuildWSMessage_FlushCommand(t *testing.T) {
	// ElevenLabs flush = {"text":""} with no other fields.
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal flush: %v", err)
	}
	if string(raw["text"]) != `""` {
		t.Errorf("expected empty string for text, got %s", raw["text"])
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("flush message should not contain voice_settings")
	}
}

func TestSettingsFor_SpeedOmittedByDefault(t *testing.T) {
	data, _ := json.Marshal(settingsFor(tts.Voice{ID: "v"}))
	if strings.Contains(string(data), "speed") {
		t.Errorf("default voice should not send speed: %s", data)
	}
	data, _ = json.Marshal(settingsFor(tts.Voice{ID: "v", SpeedFactor: 0.9}))
	if !strings.Contains(string(data), `"speed":0.9`) {
		t.Errorf("speed factor missing: %s", data)
	}
}

// ---- URL construction ----

func TestStreamURL(t *testing.T) {
	p, err := New("key", WithModel("eleven_turbo"))
	if err != nil {
		t.Fatal(err)
	}
	url := p.streamURL("voice-abc123")
	for _, want := range []string{"wss://api.elevenlabs.io/", "voice-abc123", "model_id=eleven_turbo", "output_format=pcm_24000"} {
		if !strings.Contains(url, want) {
			t.Errorf("URL %s should contain %q", url, want)
		}
	}
}

func TestWithBaseURL_DerivesWebSocketScheme(t *testing.T) {
	p, _ := New("key", WithBaseURL("http://127.0.0.1:9999"))
	if !strings.HasPrefix(p.streamURL("v"), "ws://127.0.0.1:9999/") {
		t.Errorf("stream URL = %s", p.streamURL("v"))
	}
	if p.httpBase != "http://127.0.0.1:9999" {
		t.Errorf("httpBase = %s", p.httpBase)
	}
}

// ---- Voice list ----

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"abc123","name":"Rachel","category":"premade","labels":{"accent":"american"}},
			{"voice_id":"def456","name":"Adam","labels":{}}
		]}`))
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	rachel := voices[0]
	if rachel.ID != "abc123" || rachel.Name != "Rachel" || rachel.Provider != "elevenlabs" {
		t.Errorf("unexpected voice %+v", rachel)
	}
	if rachel.Metadata["category"] != "premade" || rachel.Metadata["accent"] != "american" {
		t.Errorf("metadata = %v", rachel.Metadata)
	}
	if _, ok := voices[1].Metadata["category"]; ok {
		t.Error("empty category should not be copied into metadata")
	}

	bad, _ := New("wrong", WithBaseURL(srv.URL))
	if _, err := bad.ListVoices(context.Background()); err == nil {
		t.Error("expected error on 401")
	}
}

// ---- Streaming ----

func TestSynthesizeStream(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	received := make(chan []string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()

		var texts []string
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg boiMessage
			_ = json.Unmarshal(data, &msg)
			if msg.XiAPIKey != "" {
				if msg.XiAPIKey != "secret" {
					return
				}
				continue
			}
			if msg.Text == "" {
				break
			}
			texts = append(texts, msg.Text)
		}
		received <- texts

		chunk, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(pcm)})
		_ = conn.Write(ctx, websocket.MessageText, chunk)
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = conn.Write(ctx, websocket.MessageText, final)
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 2)
	text <- "Keep your chest up"
	text <- ""
	close(text)

	audio, err := p.SynthesizeStream(ctx, text, tts.Voice{ID: "voice-1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []byte
	for chunk := range audio {
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("audio = %v, want %v", got, pcm)
	}

	select {
	case texts := <-received:
		if len(texts) != 1 || texts[0] != "Keep your chest up " {
			t.Errorf("server received %q", texts)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for server")
	}
}

func TestSynthesizeStream_RequiresVoice(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), make(chan string), tts.Voice{}); err == nil {
		t.Error("expected error for empty voice id")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
}
