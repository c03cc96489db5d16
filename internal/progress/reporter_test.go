package progress

import (
	"bytes"
	"testing"
)

func TestLineReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &LineReporter{Label: "Fetching history", Out: &buf}
	r.Start(2)
	r.Update(1, "light.porch")
	r.Update(2, "sensor.outdoor_temperature")
	r.Finish()

	want := "Fetching history: 2 entities\n[1/2] light.porch\n[2/2] sensor.outdoor_temperature\nFetching history: done\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestOrNop(t *testing.T) {
	r := OrNop(nil)
	r.Start(1)
	r.Update(1, "x")
	r.Finish()

	lr := &LineReporter{Out: &bytes.Buffer{}}
	if OrNop(lr) != Reporter(lr) {
		t.Error("OrNop replaced a non-nil reporter")
	}
}
