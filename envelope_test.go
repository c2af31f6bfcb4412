package wskit

import "testing"

func TestNormalize_StripsReservedMetaKeys(t *testing.T) {
	raw := map[string]any{
		"type": "GET_USER",
		"meta": map[string]any{
			"correlationId": "r1",
			"clientId":      "spoofed",
			"receivedAt":    12345,
		},
	}
	res := normalize(raw)
	if !res.OK {
		t.Fatalf("normalize should succeed")
	}
	if _, ok := res.Envelope.Meta[ReservedMetaClientID]; ok {
		t.Fatalf("clientId should be stripped")
	}
	if _, ok := res.Envelope.Meta[ReservedMetaReceivedAt]; ok {
		t.Fatalf("receivedAt should be stripped")
	}
	if res.Envelope.CorrelationID() != "r1" {
		t.Fatalf("correlationId should survive normalization")
	}
}

func TestNormalize_MissingTypeFails(t *testing.T) {
	res := normalize(map[string]any{"meta": map[string]any{}})
	if res.OK {
		t.Fatalf("normalize should fail without a string type")
	}
}

func TestNormalize_EmptyTypeFails(t *testing.T) {
	res := normalize(map[string]any{"type": ""})
	if res.OK {
		t.Fatalf("normalize should fail on empty type")
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := map[string]any{
		"type": "PING",
		"meta": map[string]any{"clientId": "x", "correlationId": "r1"},
	}
	once := normalize(raw)
	twice := normalize(map[string]any{
		"type": once.Envelope.Type,
		"meta": map[string]any(once.Envelope.Meta),
	})
	if string(once.Envelope.Payload) != string(twice.Envelope.Payload) {
		t.Fatalf("payload should be stable across re-normalization")
	}
	if once.Envelope.CorrelationID() != twice.Envelope.CorrelationID() {
		t.Fatalf("correlationId should survive a second normalize pass")
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	res := decode([]byte("not json"))
	if res.OK {
		t.Fatalf("decode should fail on invalid JSON")
	}
}

func TestDecode_ValidFrame(t *testing.T) {
	res := decode([]byte(`{"type":"GET_USER","meta":{"correlationId":"r1"},"payload":{"id":"u1"}}`))
	if !res.OK {
		t.Fatalf("decode should succeed on a well-formed frame")
	}
	if res.Envelope.Type != "GET_USER" {
		t.Fatalf("type = %q, want GET_USER", res.Envelope.Type)
	}
}

func TestEnvelope_IsControl(t *testing.T) {
	if !(Envelope{Type: "$ws:abort"}).IsControl() {
		t.Fatalf("$ws:abort should be a control frame")
	}
	if (Envelope{Type: "GET_USER"}).IsControl() {
		t.Fatalf("GET_USER should not be a control frame")
	}
}

func TestEnvelope_Progress(t *testing.T) {
	e := Envelope{Meta: map[string]any{"progress": true}}
	if !e.Progress() {
		t.Fatalf("Progress() should be true")
	}
	if (Envelope{}).Progress() {
		t.Fatalf("Progress() should default to false")
	}
}
