package build

import (
	"os/exec"
	"strings"
	"testing"
)

func TestParseEvent(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
		want Event
	}{
		{SentinelPrefix + `{"type":"step.start","stepId":"s1"}`, true, Event{Type: EventStepStart, StepID: "s1"}},
		{SentinelPrefix + `{"type":"build.end"}` + "\r\n", true, Event{Type: EventBuildEnd}},
		{"Step #0: " + SentinelPrefix + `{"type":"build.start"}`, true, Event{Type: EventBuildStart}},
		{SentinelPrefix + `{"type":"step.end","stepId":`, false, Event{}},
		{SentinelPrefix + `{"stepId":"s1"}`, false, Event{}},
		{SentinelPrefix, false, Event{}},
		{`{"type":"build.start"}`, false, Event{}},
		{"plain output", false, Event{}},
	}
	for _, c := range cases {
		got, ok := ParseEvent(c.line)
		if ok != c.ok || got != c.want {
			t.Fatalf("ParseEvent(%q): want=(%+v,%v) got=(%+v,%v)", c.line, c.want, c.ok, got, ok)
		}
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"plain":     "'plain'",
		"it's":      `'it'\''s'`,
		"$HOME `x`": "'$HOME `x`'",
		"":          "''",
	}
	for in, want := range cases {
		if got := ShellQuote(in); got != want {
			t.Fatalf("ShellQuote(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestEchoEventPrintsParsableLine(t *testing.T) {
	ev := Event{Type: EventStepStart, StepID: "it's-a-step"}
	cmd := EchoEvent(ev)
	if !strings.HasPrefix(cmd, "echo '") {
		t.Fatalf("EchoEvent: want single-quoted echo got=%q", cmd)
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh available")
	}
	out, err := exec.Command(sh, "-c", cmd).Output()
	if err != nil {
		t.Fatalf("run echo: %v", err)
	}
	got, ok := ParseEvent(string(out))
	if !ok || got != ev {
		t.Fatalf("round trip: want=%+v got=%+v ok=%v", ev, got, ok)
	}
}
