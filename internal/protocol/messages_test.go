package protocol

import (
	"errors"
	"testing"
)

func TestParseClientFrameText(t *testing.T) {
	msg, err := ParseClientFrame([]byte(`{"type":"text","text":"Yokohama Station"}`))
	if err != nil {
		t.Fatalf("ParseClientFrame() error = %v", err)
	}
	tm, ok := msg.(TextMessage)
	if !ok {
		t.Fatalf("parsed type = %T, want TextMessage", msg)
	}
	if tm.Text != "Yokohama Station" {
		t.Fatalf("Text = %q", tm.Text)
	}
}

func TestParseClientFrameSuggestionSelected(t *testing.T) {
	msg, err := ParseClientFrame([]byte(`{"type":"suggestion_selected","suggestion_index":2,"accepted":false}`))
	if err != nil {
		t.Fatalf("ParseClientFrame() error = %v", err)
	}
	sel, ok := msg.(SuggestionSelected)
	if !ok {
		t.Fatalf("parsed type = %T, want SuggestionSelected", msg)
	}
	if sel.SuggestionIndex != 2 || sel.Accepted {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}

func TestParseClientFrameLocation(t *testing.T) {
	raw := `{"type":"location","location_data":{"latitude":35.6812,"longitude":139.7671,"address":"Tokyo Station","accuracy":12.5}}`
	msg, err := ParseClientFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseClientFrame() error = %v", err)
	}
	loc, ok := msg.(LocationUpdate)
	if !ok {
		t.Fatalf("parsed type = %T, want LocationUpdate", msg)
	}
	if loc.LocationData.Latitude != 35.6812 || loc.LocationData.Longitude != 139.7671 {
		t.Fatalf("unexpected coordinates: %+v", loc.LocationData)
	}
	if loc.LocationData.Accuracy == nil || *loc.LocationData.Accuracy != 12.5 {
		t.Fatalf("accuracy not preserved: %+v", loc.LocationData)
	}
}

func TestParseClientFrameControls(t *testing.T) {
	for _, raw := range []string{`{"type":"start_asr"}`, `{"type":"stop_asr"}`, `{"type":"ping"}`} {
		if _, err := ParseClientFrame([]byte(raw)); err != nil {
			t.Fatalf("ParseClientFrame(%s) error = %v", raw, err)
		}
	}
}

func TestParseClientFrameUnknownType(t *testing.T) {
	_, err := ParseClientFrame([]byte(`{"type":"teleport"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientFrameMalformed(t *testing.T) {
	if _, err := ParseClientFrame([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
	if _, err := ParseClientFrame([]byte(`{"type":"text","text":""}`)); err == nil {
		t.Fatalf("expected error for empty text")
	}
}
