package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/codec"
	"github.com/danmuck/candlewire/internal/protocol/frame"
)

func roundTrip(t *testing.T, cmd Command) Command {
	t.Helper()
	f, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode %s: %v", cmd.Tag(), err)
	}
	if f.Tag != cmd.Tag() {
		t.Fatalf("frame tag %q want %q", f.Tag, cmd.Tag())
	}
	out, err := DecodeCommand(f)
	if err != nil {
		t.Fatalf("decode %s: %v", cmd.Tag(), err)
	}
	return out
}

func TestCommandRoundTrip(t *testing.T) {
	got := roundTrip(t, SendModels{ModelBlob: "M", GeometryBlob: "G"})
	if got != (SendModels{ModelBlob: "M", GeometryBlob: "G"}) {
		t.Fatalf("send_models mismatch: %+v", got)
	}

	pose := array.MustFromSlice([]float64{
		1, 0, 0, 0.5,
		0, 1, 0, 0,
		0, 0, 1, 2,
		0, 0, 0, 1,
	}, 4, 4)
	cam, ok := roundTrip(t, SendCameraPose{Pose: pose}).(SendCameraPose)
	if !ok || !array.Equal(cam.Pose, pose) {
		t.Fatalf("send_cam_pose mismatch: %+v", cam)
	}

	rec, ok := roundTrip(t, StartRecording{Filename: "out.mp4"}).(StartRecording)
	if !ok || rec.Filename != "out.mp4" {
		t.Fatalf("start_recording mismatch: %+v", rec)
	}

	for _, cmd := range []Command{ResetCamera{}, Clean{}, StopRecording{}} {
		f, err := EncodeCommand(cmd)
		if err != nil {
			t.Fatalf("encode %s: %v", cmd.Tag(), err)
		}
		if len(f.Payload) != 0 {
			t.Fatalf("%s payload should be empty, got %d bytes", cmd.Tag(), len(f.Payload))
		}
		if out := roundTrip(t, cmd); out != cmd {
			t.Fatalf("%s mismatch: %+v", cmd.Tag(), out)
		}
	}
}

func TestStateUpdateRoundTrip(t *testing.T) {
	q := array.MustFromSlice([]float64{0, 0, 0.8, 1, 0, 0, 0})
	v := array.MustFromSlice([]float64{0, 0, 0, 0, 0, 0})

	got, ok := roundTrip(t, StateUpdate{Position: q, Velocity: &v}).(StateUpdate)
	if !ok || !array.Equal(got.Position, q) || got.Velocity == nil || !array.Equal(*got.Velocity, v) {
		t.Fatalf("state_update mismatch: %+v", got)
	}

	got, ok = roundTrip(t, StateUpdate{Position: q}).(StateUpdate)
	if !ok || got.Velocity != nil {
		t.Fatalf("absent velocity should stay absent: %+v", got)
	}
}

func TestStateUpdateWireLayout(t *testing.T) {
	q := array.MustFromSlice([]float64{1})
	f, err := EncodeCommand(StateUpdate{Position: q})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// fixarray(2), envelope..., nil
	if f.Payload[0] != 0x92 || f.Payload[len(f.Payload)-1] != 0xc0 {
		t.Fatalf("unexpected state payload: % x", f.Payload)
	}
	env, err := array.Encode(q)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	if string(f.Payload[1:len(f.Payload)-1]) != string(env) {
		t.Fatalf("position envelope not embedded verbatim")
	}
}

func TestSendModelsWireLayout(t *testing.T) {
	f, err := EncodeCommand(SendModels{ModelBlob: "M", GeometryBlob: "G"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x92, 0xa1, 'M', 0xa1, 'G'}
	if string(f.Payload) != string(want) {
		t.Fatalf("payload % x want % x", f.Payload, want)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := DecodeCommand(frame.New("bogus_cmd", nil))
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestDecodeMalformedPayloads(t *testing.T) {
	threeBlobs, err := codec.Marshal([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	badEnv, err := codec.Marshal(array.Envelope{DType: array.Float64, Shape: []int{4, 4}, Data: make([]byte, 8)}.Canonical())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := []struct {
		name string
		f    frame.Frame
		env  bool
	}{
		{"models-garbage", frame.New(frame.TagSendModels, []byte{0xc1}), false},
		{"models-count", frame.New(frame.TagSendModels, threeBlobs), false},
		{"pose-short", frame.New(frame.TagSendCamPose, badEnv), true},
		{"state-garbage", frame.New(frame.TagStateUpdate, []byte("nope")), true},
		{"record-empty", frame.New(frame.TagStartRecording, nil), false},
		{"record-utf8", frame.New(frame.TagStartRecording, []byte{0xff, 0xfe}), false},
	}
	for _, tc := range cases {
		_, err := DecodeCommand(tc.f)
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", tc.name, err)
		}
		if tc.env && !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("%s: expected ErrMalformedEnvelope in chain, got %v", tc.name, err)
		}
	}
}

func TestEncodeRejectsBadCommands(t *testing.T) {
	if _, err := EncodeCommand(StartRecording{Filename: "  "}); !errors.Is(err, ErrEmptyFilename) {
		t.Fatalf("expected ErrEmptyFilename, got %v", err)
	}
	if _, err := EncodeCommand(nil); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for nil command, got %v", err)
	}
	bad := array.Envelope{DType: array.Int32, Shape: []int{3}, Data: make([]byte, 4)}
	if _, err := EncodeCommand(StateUpdate{Position: bad}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestValidatePose(t *testing.T) {
	identity := array.MustFromSlice([]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, 4, 4)
	if err := ValidatePose(identity); err != nil {
		t.Fatalf("identity rejected: %v", err)
	}
	if err := ValidatePose(array.MustFromSlice(make([]float64, 9), 3, 3)); err == nil {
		t.Fatalf("3x3 pose accepted")
	}
	if err := ValidatePose(array.MustFromSlice(make([]float32, 16), 4, 4)); err == nil {
		t.Fatalf("float32 pose accepted")
	}
}
