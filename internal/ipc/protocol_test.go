package ipc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/austinkregel/local-media/playerd/internal/player"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

func TestEncodeRequest(t *testing.T) {
	data, err := EncodeRequest(&Request{Cmd: CmdPlay})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Result is not valid JSON: %v", err)
	}
	if decoded["cmd"] != "play" {
		t.Errorf("Expected cmd 'play', got '%v'", decoded["cmd"])
	}
	if _, ok := decoded["data"]; ok {
		t.Error("Expected empty data to be omitted")
	}
}

func TestDecodeRequestWithData(t *testing.T) {
	data := []byte(`{"cmd":"prepare","data":{"location":"/media/film.mkv","videoBufferSize":0,"play":true}}`)

	req, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Cmd != CmdPrepare {
		t.Errorf("Expected cmd 'prepare', got '%s'", req.Cmd)
	}

	r, err := decode[PrepareRequest](req)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if r.Location != "/media/film.mkv" || !r.Play {
		t.Errorf("Unexpected prepare request %+v", r)
	}
	if r.VideoBufferSize == nil || *r.VideoBufferSize != 0 {
		t.Error("Expected an explicit zero video buffer size")
	}
	if r.AudioBufferSize != nil {
		t.Error("Expected audio buffer size to be unset")
	}
}

func TestDecodeRequestInvalid(t *testing.T) {
	if _, err := DecodeRequest([]byte(`not valid json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}

	req := &Request{Cmd: CmdSeek, Data: json.RawMessage(`{"position":"soon"}`)}
	if _, err := decode[SeekRequest](req); err == nil {
		t.Error("Expected error for mistyped data")
	}
}

func TestDecodeEmptyData(t *testing.T) {
	r, err := decode[SubscribeRequest](&Request{Cmd: CmdSubscribe})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(r.Topics) != 0 {
		t.Errorf("Expected no topics, got %v", r.Topics)
	}
}

func TestResponses(t *testing.T) {
	resp, err := NewSuccessResponse(VolumeRequest{Level: 0.5})
	if err != nil {
		t.Fatalf("NewSuccessResponse failed: %v", err)
	}
	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if !decoded.Success || string(decoded.Data) != `{"level":0.5}` {
		t.Errorf("Unexpected response %s", data)
	}

	errResp := NewErrorResponse("nope")
	if errResp.Success || errResp.Error != "nope" {
		t.Errorf("Unexpected error response %+v", errResp)
	}
}

func TestStatusResponseJSON(t *testing.T) {
	phase := player.PhasePaused
	data, err := json.Marshal(StatusResponse{
		State:      "ready.paused",
		Status:     player.StatusReady,
		Phase:      &phase,
		RepeatMode: types.RepeatCircular,
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["status"] != "ready" || raw["phase"] != "paused" || raw["repeatMode"] != "circular" {
		t.Errorf("Unexpected encoding %s", data)
	}

	var back StatusResponse
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Status != player.StatusReady || back.Phase == nil || *back.Phase != player.PhasePaused {
		t.Errorf("got %+v, want ready/paused", back)
	}
}

func TestNewPushMessage(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	data, err := NewPushMessage(TopicEvent, NewEventPush(player.Event{
		Type:    player.EventError,
		MediaID: "m",
		Err:     errors.New("decode failed"),
		Time:    at,
	}))
	if err != nil {
		t.Fatalf("NewPushMessage failed: %v", err)
	}

	var msg PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Type != TopicEvent {
		t.Errorf("got %v, want %v", msg.Type, TopicEvent)
	}
	var push EventPush
	if err := json.Unmarshal(msg.Data, &push); err != nil {
		t.Fatal(err)
	}
	want := EventPush{Type: player.EventError, MediaID: "m", Error: "decode failed", Time: at.UnixMilli()}
	if push != want {
		t.Errorf("got %+v, want %+v", push, want)
	}
}
