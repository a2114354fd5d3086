package fetch

import (
	"strings"
	"testing"
)

func TestNormalize_StripsScriptAndStyle(t *testing.T) {
	html := `<html><head><style>.a{color:red}</style></head>
<body><script>track();</script><p>Hello World</p></body></html>`
	got := Normalize(html)
	if strings.Contains(got, "color:red") || strings.Contains(got, "track()") {
		t.Fatalf("normalize left script/style content: %q", got)
	}
	if !strings.Contains(got, "hello world") {
		t.Fatalf("normalize dropped real content: %q", got)
	}
}

func TestNormalize_StripsComments(t *testing.T) {
	html := `<div><!-- build: a1b2c3 -->visible</div>`
	got := Normalize(html)
	if strings.Contains(got, "build") {
		t.Fatalf("comment not stripped: %q", got)
	}
}

func TestNormalize_StripsNoiseAttributesButKeepsElement(t *testing.T) {
	html := `<div data-csrf-token="xyz123" data-ga-id="UA-1" class="price">$42</div>`
	got := Normalize(html)
	if strings.Contains(got, "xyz123") || strings.Contains(got, "ua-1") {
		t.Fatalf("noise attribute survived: %q", got)
	}
	if !strings.Contains(got, "$42") {
		t.Fatalf("normalize dropped meaningful content: %q", got)
	}
}

func TestNormalize_IsStableAcrossNoiseChurn(t *testing.T) {
	a := `<div data-csrf-token="aaa" data-session-id="111">Price: $100</div>`
	b := `<div data-csrf-token="bbb" data-session-id="222">Price: $100</div>`
	if Normalize(a) != Normalize(b) {
		t.Fatalf("normalize not stable across noise-only churn:\na=%q\nb=%q", Normalize(a), Normalize(b))
	}
}

func TestNormalize_IsLowercase(t *testing.T) {
	got := Normalize(`<p>UPPER Case Text</p>`)
	for _, r := range got {
		if r >= 'A' && r <= 'Z' {
			t.Fatalf("normalize left uppercase rune: %q", got)
		}
	}
}

func TestFingerprint_SameInputSameHash(t *testing.T) {
	h1 := Fingerprint("abc")
	h2 := Fingerprint("abc")
	if h1 != h2 {
		t.Fatalf("fingerprint not deterministic: %q vs %q", h1, h2)
	}
}

func TestFingerprint_DifferentInputDifferentHash(t *testing.T) {
	if Fingerprint("abc") == Fingerprint("abd") {
		t.Fatal("fingerprint collided for distinct inputs")
	}
}

func TestFingerprint_MatchesNoiseInvariantPipeline(t *testing.T) {
	a := Normalize(`<div data-csrf-token="aaa">Price: $100</div>`)
	b := Normalize(`<div data-csrf-token="bbb">Price: $100</div>`)
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint diverged for noise-only HTML churn")
	}
}
