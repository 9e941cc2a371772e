package providers

import (
	"context"
	"net/http"
	"testing"
)

func TestStaticTokenSource_RejectsPlaceholderToken(t *testing.T) {
	src := NewStaticTokenSource("<OPENROUTER_API_KEY>", "providers.openrouter.api_key")
	if _, err := src.Token(context.Background()); err == nil {
		t.Fatalf("expected placeholder token to be rejected")
	}
}

func TestStaticTokenSource_RejectsEnvReferenceToken(t *testing.T) {
	src := NewStaticTokenSource("${OPENROUTER_API_KEY}", "providers.openrouter.api_key")
	if _, err := src.Token(context.Background()); err == nil {
		t.Fatalf("expected env reference token to be rejected")
	}
}

func TestAPIKeyAuth_SetsBearerHeader(t *testing.T) {
	auth := NewAPIKeyAuth(NewStaticTokenSource(" or-key ", "providers.openrouter.api_key"))
	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid", nil)
	if err := auth.Apply(context.Background(), req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer or-key" {
		t.Fatalf("expected bearer header, got %q", got)
	}
	if auth.Mode() != authModeAPIKey {
		t.Fatalf("unexpected mode %q", auth.Mode())
	}
}

func TestAPIKeyStatus(t *testing.T) {
	if ok, _ := apiKeyStatus("  "); ok {
		t.Fatalf("blank key must not count as configured")
	}
	if ok, _ := apiKeyStatus("${KEY}"); ok {
		t.Fatalf("placeholder key must not count as configured")
	}
	if ok, mode := apiKeyStatus("sk-live"); !ok || mode != authModeAPIKey {
		t.Fatalf("expected configured api key, got %v %q", ok, mode)
	}
}
