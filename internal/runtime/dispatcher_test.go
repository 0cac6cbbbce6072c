package runtime

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/frame"
	"github.com/danmuck/candlewire/internal/testutil/testlog"
)

func mustParts(t *testing.T, cmd protocol.Command) [][]byte {
	t.Helper()
	f, err := protocol.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode %s: %v", cmd.Tag(), err)
	}
	return f.Parts()
}

func fixedDims(nq, nv int) DimsFunc {
	return func(string, string) (Dims, error) { return Dims{NQ: nq, NV: nv}, nil }
}

func identityPose() array.Envelope {
	return array.MustFromSlice([]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, 4, 4)
}

func TestDispatcherUnknownAndInvalidFrames(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(NewHeadlessRenderer(""), frame.DefaultLimits())

	got := d.HandleControl([][]byte{[]byte("bogus_cmd"), {}})
	if string(got) != "error: unknown command bogus_cmd" {
		t.Fatalf("unexpected reply %q", got)
	}
	got = d.HandleControl([][]byte{[]byte(frame.TagClean)})
	if err := (protocol.Reply{Body: got}).Err(); !errors.Is(err, protocol.ErrCommandRejected) {
		t.Fatalf("expected error reply for one-part frame, got %q", got)
	}
	got = d.HandleControl(mustParts(t, protocol.StateUpdate{Position: array.MustFromSlice([]float64{1})}))
	if err := (protocol.Reply{Body: got}).Err(); !errors.Is(err, protocol.ErrCommandRejected) {
		t.Fatalf("expected error reply for stream tag on control, got %q", got)
	}
	if st := d.Status(); st.Rejected != 3 || st.Commands != 3 {
		t.Fatalf("unexpected counters: %+v", st)
	}
}

func TestDispatcherModelAndCameraPose(t *testing.T) {
	testlog.Start(t)
	r := NewHeadlessRenderer("")
	d := NewDispatcher(r, frame.DefaultLimits())

	if got := d.HandleControl(mustParts(t, protocol.SendModels{ModelBlob: "M", GeometryBlob: "G"})); string(got) != "ok" {
		t.Fatalf("send_models reply %q", got)
	}
	if snap := r.Snapshot(); snap.Model != "M" || snap.Geometry != "G" {
		t.Fatalf("model not forwarded: %+v", snap)
	}

	bad := array.MustFromSlice(make([]float64, 9), 3, 3)
	got := d.HandleControl(mustParts(t, protocol.SendCameraPose{Pose: bad}))
	var rejected *protocol.RejectedError
	if err := (protocol.Reply{Tag: frame.TagSendCamPose, Body: got}).Err(); !errors.As(err, &rejected) {
		t.Fatalf("expected rejection for 3x3 pose, got %q", got)
	}

	pose := array.MustFromSlice([]float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, 4, 4)
	if got := d.HandleControl(mustParts(t, protocol.SendCameraPose{Pose: pose})); string(got) != "ok" {
		t.Fatalf("send_cam_pose reply %q", got)
	}
	snap := r.Snapshot()
	for i, v := range snap.Pose {
		if v != float64(i+1) {
			t.Fatalf("pose not row-major: %v", snap.Pose)
		}
	}

	if got := d.HandleControl(mustParts(t, protocol.ResetCamera{})); string(got) != "ok" {
		t.Fatalf("reset_camera reply %q", got)
	}
	if r.Snapshot().Pose != nil {
		t.Fatalf("pose survived reset")
	}
	if got := d.HandleControl(mustParts(t, protocol.Clean{})); string(got) != "ok" {
		t.Fatalf("cmd_clean reply %q", got)
	}
	if d.Status().Loaded || r.Snapshot().Model != "" {
		t.Fatalf("model survived clean")
	}
}

func TestDispatcherRecordingToggle(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(NewHeadlessRenderer(t.TempDir()), frame.DefaultLimits())

	if got := d.HandleControl(mustParts(t, protocol.StartRecording{Filename: "out.mp4"})); string(got) != "ok" {
		t.Fatalf("start_recording reply %q", got)
	}
	got := d.HandleControl(mustParts(t, protocol.StartRecording{Filename: "again.mp4"}))
	if err := (protocol.Reply{Body: got}).Err(); !errors.Is(err, protocol.ErrCommandRejected) {
		t.Fatalf("second start should be rejected, got %q", got)
	}

	for i, want := range []bool{true, false} {
		body := d.HandleControl(mustParts(t, protocol.StopRecording{}))
		active, err := protocol.Reply{Tag: frame.TagStopRecording, Body: body}.Flag()
		if err != nil || active != want {
			t.Fatalf("stop %d: active=%v err=%v want %v", i, active, err, want)
		}
	}
}

func TestDispatcherStreamLatestStateOnly(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	r := NewHeadlessRenderer(dir)
	r.Dims = fixedDims(3, 2)
	d := NewDispatcher(r, frame.DefaultLimits())

	q := array.MustFromSlice([]float64{1, 2, 3})
	if err := d.HandleStream(mustParts(t, protocol.StateUpdate{Position: q})); !errors.Is(err, ErrStateIgnored) {
		t.Fatalf("expected state before load to be ignored, got %v", err)
	}

	d.HandleControl(mustParts(t, protocol.SendModels{ModelBlob: "M", GeometryBlob: "G"}))
	d.HandleControl(mustParts(t, protocol.StartRecording{Filename: "states.bin"}))

	short := array.MustFromSlice([]float64{1, 2})
	if err := d.HandleStream(mustParts(t, protocol.StateUpdate{Position: short})); !errors.Is(err, ErrStateShape) {
		t.Fatalf("expected ErrStateShape, got %v", err)
	}
	for i := 0; i < 3; i++ {
		q := array.MustFromSlice([]float64{float64(i), 0, 0})
		v := array.MustFromSlice([]float64{0, float64(i)})
		if err := d.HandleStream(mustParts(t, protocol.StateUpdate{Position: q, Velocity: &v})); err != nil {
			t.Fatalf("state %d: %v", i, err)
		}
	}

	rendered, err := d.RenderLatest()
	if err != nil || !rendered {
		t.Fatalf("render latest: rendered=%v err=%v", rendered, err)
	}
	if rendered, _ := d.RenderLatest(); rendered {
		t.Fatalf("same state rendered twice")
	}

	body := d.HandleControl(mustParts(t, protocol.StopRecording{}))
	if active, err := (protocol.Reply{Body: body}).Flag(); err != nil || !active {
		t.Fatalf("stop recording: %v %v", active, err)
	}

	states, err := ReadRecording(filepath.Join(dir, "states.bin"))
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if len(states) != 1 || states[0].Position[0] != 2 || states[0].Velocity[1] != 2 {
		t.Fatalf("expected only the latest state recorded, got %+v", states)
	}

	st := d.Status()
	if st.StatesRendered != 1 || st.StatesDropped != 2 || st.StatesReceived != 5 {
		t.Fatalf("unexpected state counters: %+v", st)
	}
}

func TestDispatcherStreamRejectsControlFrames(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(NewHeadlessRenderer(""), frame.DefaultLimits())
	if err := d.HandleStream(mustParts(t, protocol.ResetCamera{})); !errors.Is(err, ErrNotStream) {
		t.Fatalf("expected ErrNotStream, got %v", err)
	}
	if err := d.HandleStream([][]byte{[]byte("bogus_cmd"), {}}); !errors.Is(err, frame.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}
