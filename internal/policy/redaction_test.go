package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	in := "reach me at jane.doe@example.com or +1 (555) 010-7788, card 4111 1111 1111 1111"
	out, changed := RedactPII(in)
	if !changed {
		t.Fatal("RedactPII reported no change")
	}
	for _, leak := range []string{"jane.doe", "4111", "010-7788"} {
		if strings.Contains(out, leak) {
			t.Fatalf("redacted output still contains %q: %s", leak, out)
		}
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_CARD]", "[REDACTED_PHONE]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("missing %s in %s", marker, out)
		}
	}
}

func TestRedactPIILeavesCleanTextAlone(t *testing.T) {
	in := "the outage in the reported area should resolve by tomorrow"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, changed=%v", in, out, changed)
	}
}

func TestRedactSecrets(t *testing.T) {
	in := `upstream said: {"client_secret":{"value":"ek_abc123DEF456"}}`
	out, changed := RedactSecrets(in)
	if !changed {
		t.Fatal("RedactSecrets reported no change")
	}
	if strings.Contains(out, "ek_abc123DEF456") {
		t.Fatalf("key survived redaction: %s", out)
	}
	if !strings.Contains(out, "[REDACTED_KEY]") {
		t.Fatalf("missing marker in %s", out)
	}
}
