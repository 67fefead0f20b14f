package classify

import "testing"

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{404, NotFound},
		{413, PayloadTooLarge},
		{500, ServerFault},
		{503, ServiceUnavailable},
		{502, Unknown},
		{400, Unknown},
	}
	for _, tt := range tests {
		got := Classify(Input{HTTPStatus: tt.status})
		if got != tt.want {
			t.Errorf("Classify(status=%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassifyMessagePatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"request timeout exceeded", Timeout},
		{"operation timed out after 30s", Timeout},
		{"context deadline exceeded", Timeout},
		{"worker ran out of memory", ResourceExhausted},
		{"OOM killed", ResourceExhausted},
		{"unsupported format: wmv", UnsupportedFormat},
		{"unknown codec in container", UnsupportedFormat},
		{"mime type rejected", UnsupportedFormat},
		{"something inexplicable happened", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		got := Classify(Input{RawMessage: tt.msg})
		if got != tt.want {
			t.Errorf("Classify(msg=%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

// A message matching several rules resolves to the first rule in table order.
func TestClassifyFirstMatchWins(t *testing.T) {
	got := Classify(Input{RawMessage: "timeout while probing format"})
	if got != Timeout {
		t.Errorf("Classify = %q, want %q (timeout rule precedes format rule)", got, Timeout)
	}
}

func TestClassifyStatusBeatsMessage(t *testing.T) {
	got := Classify(Input{HTTPStatus: 413, RawMessage: "upload timed out"})
	if got != PayloadTooLarge {
		t.Errorf("Classify = %q, want %q (status precedes message patterns)", got, PayloadTooLarge)
	}
}

func TestClassifyTransportFailure(t *testing.T) {
	if got := Classify(Input{TransportFailure: true}); got != NetworkUnreachable {
		t.Errorf("Classify(transport) = %q, want %q", got, NetworkUnreachable)
	}
	// A recognizable message still wins over the transport marker.
	got := Classify(Input{TransportFailure: true, RawMessage: "dial timeout"})
	if got != Timeout {
		t.Errorf("Classify(transport+msg) = %q, want %q", got, Timeout)
	}
}

func TestClassifyNoSession(t *testing.T) {
	if got := Classify(Input{NoSession: true}); got != SessionExpired {
		t.Errorf("Classify(no session) = %q, want %q", got, SessionExpired)
	}
}

func TestClassifyUnknownFallback(t *testing.T) {
	if got := Classify(Input{}); got != Unknown {
		t.Errorf("Classify(zero) = %q, want %q", got, Unknown)
	}
}
