package pipe

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/vovakirdan/pipechat-server/internal/core"
)

func newTestReader(t *testing.T) *ControlReader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control_pipe.txt")
	r, err := NewControlReader(path, 10*time.Millisecond, 4096, nil)
	if err != nil {
		t.Fatalf("new control reader: %v", err)
	}
	return r
}

func appendControl(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o666)
	if err != nil {
		t.Fatalf("open control: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append control: %v", err)
	}
}

func drain(out chan core.Command) []core.Command {
	var cmds []core.Command
	for {
		select {
		case cmd := <-out:
			cmds = append(cmds, cmd)
		default:
			return cmds
		}
	}
}

func TestNewControlReaderCreatesFile(t *testing.T) {
	r := newTestReader(t)
	if _, err := os.Stat(r.Path()); err != nil {
		t.Fatalf("control file missing: %v", err)
	}

	if err := r.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(r.Path()); !os.IsNotExist(err) {
		t.Fatalf("control file still present: %v", err)
	}
}

func TestNewControlReaderFailsOnUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewControlReader(filepath.Join(blocker, "control.txt"), time.Second, 0, nil); err == nil {
		t.Fatalf("expected error when parent is a regular file")
	}
}

func TestPollForwardsCompleteLinesInOrder(t *testing.T) {
	r := newTestReader(t)
	appendControl(t, r.Path(), "c1|LOGIN|alice\n\nc1|join|#lab\nc1|SAY|#lab|hi|there\n")

	out := make(chan core.Command, 8)
	if err := r.Poll(context.Background(), out); err != nil {
		t.Fatalf("poll: %v", err)
	}

	cmds := drain(out)
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %+v", cmds)
	}
	if cmds[0].Kind != core.CommandLogin || cmds[1].Kind != core.CommandJoin || cmds[2].Kind != core.CommandSay {
		t.Fatalf("unexpected order: %+v", cmds)
	}
	if !reflect.DeepEqual(cmds[2].Args, []string{"#lab", "hi", "there"}) {
		t.Fatalf("unexpected args: %v", cmds[2].Args)
	}

	data, _ := os.ReadFile(r.Path())
	if len(data) != 0 {
		t.Fatalf("expected consumed control file, got %q", data)
	}
}

func TestPollKeepsPartialLine(t *testing.T) {
	r := newTestReader(t)
	appendControl(t, r.Path(), "c1|LOGIN|alice\nc1|JOI")

	out := make(chan core.Command, 8)
	if err := r.Poll(context.Background(), out); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := drain(out); len(got) != 1 {
		t.Fatalf("expected only the complete line, got %+v", got)
	}

	appendControl(t, r.Path(), "N|#lab\n")
	if err := r.Poll(context.Background(), out); err != nil {
		t.Fatalf("poll: %v", err)
	}
	got := drain(out)
	if len(got) != 1 || got[0].Kind != core.CommandJoin || got[0].Args[0] != "#lab" {
		t.Fatalf("expected the completed JOIN, got %+v", got)
	}
}

func TestPollSkipsMalformedLines(t *testing.T) {
	r := newTestReader(t)
	r.maxLine = 64
	long := "c1|SAY|#lab|"
	for len(long) < 100 {
		long += "x"
	}
	appendControl(t, r.Path(), "garbage\n../x|LOGIN|eve\nws-abc|LOGIN|mallory\n"+long+"\nc2|WHO|#lab\n")

	out := make(chan core.Command, 8)
	if err := r.Poll(context.Background(), out); err != nil {
		t.Fatalf("poll: %v", err)
	}
	got := drain(out)
	if len(got) != 1 || got[0].ConnID != "c2" || got[0].Kind != core.CommandWho {
		t.Fatalf("unexpected commands: %+v", got)
	}
	if r.skipped != 4 {
		t.Fatalf("expected 4 skipped lines, got %d", r.skipped)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newTestReader(t)
	out := make(chan core.Command, 8)
	ctx, cancel := context.WithCancel(context.Background())
	appendControl(t, r.Path(), "c1|HEARTBEAT\n")

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, out)
	}()

	select {
	case cmd := <-out:
		if cmd.Kind != core.CommandHeartbeat {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for command")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reader did not stop")
	}
}
