package domainbay

import "testing"

func TestNormalizeAddress(t *testing.T) {
	lower := "0x52908400098527886e0f7030069857d2e4169ee7"
	want := "0x52908400098527886E0F7030069857D2E4169EE7"

	if got := NormalizeAddress(lower); got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
	if got := NormalizeAddress("eip155:1:" + lower); got != want {
		t.Fatalf("expected caip form to normalize, got %s", got)
	}
	if got := NormalizeAddress("not-an-address"); got != "not-an-address" {
		t.Fatalf("expected passthrough got %s", got)
	}
	if !SameAddress(lower, want) {
		t.Fatalf("expected same address")
	}
}

func TestIsAddress(t *testing.T) {
	if !IsAddress("0x52908400098527886E0F7030069857D2E4169EE7") {
		t.Fatalf("expected valid address")
	}
	if IsAddress("") || IsAddress("0x1234") {
		t.Fatalf("expected invalid address")
	}
}

func TestNames(t *testing.T) {
	if NormalizeName(" Example.COM. ") != "example.com" {
		t.Fatalf("unexpected normalization")
	}
	if TLD("foo.bar.io") != "io" {
		t.Fatalf("unexpected tld")
	}
	if TLD("localhost") != "" {
		t.Fatalf("expected empty tld")
	}
	if !IsDomainName("a.com") || IsDomainName("acom") || IsDomainName("a..com") {
		t.Fatalf("unexpected domain shape result")
	}
}
