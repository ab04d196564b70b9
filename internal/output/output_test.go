package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetFlagsRoundTrip(t *testing.T) {
	SetFlags(true, false, true)
	defer SetFlags(false, false, false)

	if !IsJSON() || IsQuiet() || !IsVerbose() {
		t.Fatalf("flags = json:%v quiet:%v verbose:%v", IsJSON(), IsQuiet(), IsVerbose())
	}
}

func TestPrintJSONWritesIndentedObject(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, map[string]int{"a": 1}); err != nil {
		t.Fatalf("PrintJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"a": 1`) {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestPrintErrorEnvelope(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintError(&buf, "bad_config", "missing field"); err != nil {
		t.Fatalf("PrintError: %v", err)
	}
	if !strings.Contains(buf.String(), "bad_config") || !strings.Contains(buf.String(), "missing field") {
		t.Fatalf("output = %q", buf.String())
	}
}
