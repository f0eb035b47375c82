package redaction

import (
	"strings"
	"testing"
)

func TestRedactStringMasksEmail(t *testing.T) {
	r := New()
	got := r.RedactString("contact me at jane.doe@example.com please")
	if strings.Contains(got, "jane.doe@example.com") {
		t.Fatalf("email not masked: %q", got)
	}
}

func TestRedactStringMasksSSN(t *testing.T) {
	r := New()
	got := r.RedactString("ssn is 123-45-6789 on file")
	if strings.Contains(got, "123-45-6789") {
		t.Fatalf("ssn not masked: %q", got)
	}
}

func TestRedactStringMasksCreditCard(t *testing.T) {
	r := New()
	got := r.RedactString("card 4111 1111 1111 1111 on file")
	if strings.Contains(got, "4111 1111 1111 1111") {
		t.Fatalf("credit card not masked: %q", got)
	}
}

func TestRedactMapMasksSensitiveKeys(t *testing.T) {
	r := New()
	m := map[string]any{
		"password":   "hunter2",
		"authToken":  "abc123",
		"api_key":    "xyz",
		"creditCard": "4111111111111111",
		"username":   "plainvalue",
	}
	out := r.RedactMap(m)
	for _, k := range []string{"password", "authToken", "api_key", "creditCard"} {
		if out[k] != mask {
			t.Errorf("key %q = %v, want %q", k, out[k], mask)
		}
	}
	if out["username"] != "plainvalue" {
		t.Errorf("username should pass through unmasked, got %v", out["username"])
	}
}

func TestRedactMapRecursesIntoNestedMapsAndSlices(t *testing.T) {
	r := New()
	m := map[string]any{
		"nested": map[string]any{"secret": "shh"},
		"list":   []any{map[string]any{"token": "tok"}, "plain"},
	}
	out := r.RedactMap(m)
	nested := out["nested"].(map[string]any)
	if nested["secret"] != mask {
		t.Fatalf("nested secret not masked: %v", nested)
	}
	list := out["list"].([]any)
	item := list[0].(map[string]any)
	if item["token"] != mask {
		t.Fatalf("list item token not masked: %v", item)
	}
	if list[1] != "plain" {
		t.Fatalf("plain string element altered: %v", list[1])
	}
}

func TestRedactBearerTokenTruncatesMiddle(t *testing.T) {
	got := RedactBearerToken("abcd1234efgh5678")
	if got != "abcd...5678" {
		t.Fatalf("RedactBearerToken = %q, want abcd...5678", got)
	}
}

func TestRedactBearerTokenShortTokenFullyMasked(t *testing.T) {
	got := RedactBearerToken("short")
	if got != mask {
		t.Fatalf("RedactBearerToken(short) = %q, want %q", got, mask)
	}
}

func TestTruncateBodyRespectsLimit(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := TruncateBody(long)
	if len(got) != 1000 {
		t.Fatalf("TruncateBody length = %d, want 1000", len(got))
	}
}

func TestTruncateBodyLeavesShortBodyAlone(t *testing.T) {
	short := "hello"
	if got := TruncateBody(short); got != short {
		t.Fatalf("TruncateBody(%q) = %q", short, got)
	}
}
