package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Generation.Provider = "ollama"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate_FailoverChainUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Generation.FailoverChain = []string{"claude", "nope"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown failover provider")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Fatalf("error should name the provider, got: %v", err)
	}
}

func TestValidate_Temperature_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Generation.Temperature = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("temperature=0 should be valid: %v", err)
	}

	cfg.Generation.Temperature = 2
	if err := Validate(cfg); err != nil {
		t.Fatalf("temperature=2 should be valid: %v", err)
	}

	cfg.Generation.Temperature = 2.5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for temperature=2.5")
	}
}

func TestValidate_StayWindow(t *testing.T) {
	cfg := Defaults()
	cfg.Links.CheckoutOffsetDays = cfg.Links.CheckinOffsetDays
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when checkout is not after checkin")
	}
}

func TestValidate_EmptyAreas(t *testing.T) {
	cfg := Defaults()
	cfg.Links.Areas = nil
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty areas")
	}
}

func TestValidate_Cron(t *testing.T) {
	cfg := Defaults()
	cfg.Poll.Cron = "*/5 * * * *"
	if err := Validate(cfg); err != nil {
		t.Fatalf("valid cron rejected: %v", err)
	}

	cfg.Poll.Cron = "every five minutes"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestValidate_Workers(t *testing.T) {
	for _, n := range []int{0, 33} {
		cfg := Defaults()
		cfg.Poll.Workers = n
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected error for workers=%d", n)
		}
	}
}

func TestValidate_ChunkOverlap(t *testing.T) {
	cfg := Defaults()
	cfg.Knowledge.ChunkOverlap = cfg.Knowledge.ChunkSize
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for overlap >= chunk size")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Knowledge.TopK = 0
	cfg.Listings.MaxMatches = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"knowledge.topK", "listings.maxMatches"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

// --- Credentials ---

func TestRequireCredentials_Missing(t *testing.T) {
	cfg := Defaults()
	err := RequireCredentials(cfg)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	for _, name := range []string{"OPENAI_API_KEY", "EMAIL_ADDRESS", "EMAIL_PASSWORD"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in %v", name, err)
		}
	}
	if strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatal("claude key should not be required when claude is unused")
	}
}

func TestRequireCredentials_ClaudeInChain(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Mail.Address = "host@example.com"
	cfg.Mail.Password = "secret"
	cfg.Generation.FailoverChain = []string{"claude"}

	err := RequireCredentials(cfg)
	if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("expected missing ANTHROPIC_API_KEY, got %v", err)
	}

	cfg.Providers.Claude.APIKey = "sk-ant"
	if err := RequireCredentials(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Listings.City = "Alexandria"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Listings.City != "Alexandria" {
		t.Fatalf("expected 'Alexandria', got %q", loaded.Listings.City)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefaults_MissingFile(t *testing.T) {
	t.Setenv("EMAIL_ADDRESS", "host@example.com")
	cfg, err := LoadOrDefaults(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mail.Address != "host@example.com" {
		t.Fatalf("env overlay not applied, got %q", cfg.Mail.Address)
	}
	if cfg.Knowledge.TopK != 3 {
		t.Fatalf("expected default topK 3, got %d", cfg.Knowledge.TopK)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"knowledge": {"topK": 0}}`), 0o644)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "knowledge.topK") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_EnvOverlayWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("EMAIL_PASSWORD", "app-password")
	t.Setenv("GUESTMAIL_POLL_INTERVAL_SECONDS", "45")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"providers": {"openai": {"apiKey": "sk-from-file"}},
		"poll": {"intervalSeconds": 10, "maxBackoffSeconds": 600, "workers": 1}
	}`
	os.WriteFile(path, []byte(content), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-from-env" {
		t.Fatalf("expected env key, got %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Mail.Password != "app-password" {
		t.Fatalf("expected env password, got %q", cfg.Mail.Password)
	}
	if cfg.Poll.IntervalSeconds != 45 {
		t.Fatalf("expected interval 45, got %d", cfg.Poll.IntervalSeconds)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_GUESTMAIL_CITY", "Luxor")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"listings": {"city": "${TEST_GUESTMAIL_CITY}", "catalogPath": "${TEST_GUESTMAIL_CATALOG:-catalog.json}"}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listings.City != "Luxor" {
		t.Fatalf("expected city 'Luxor', got %q", cfg.Listings.City)
	}
	if cfg.Listings.CatalogPath != "catalog.json" {
		t.Fatalf("expected default catalog path, got %q", cfg.Listings.CatalogPath)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	os.WriteFile(path, []byte("GUESTMAIL_TEST_DOTENV_A=from-file\nGUESTMAIL_TEST_DOTENV_B=from-file\n"), 0o644)

	t.Setenv("GUESTMAIL_TEST_DOTENV_A", "from-env")
	os.Unsetenv("GUESTMAIL_TEST_DOTENV_B")
	t.Cleanup(func() { os.Unsetenv("GUESTMAIL_TEST_DOTENV_B") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("GUESTMAIL_TEST_DOTENV_A"); got != "from-env" {
		t.Fatalf("existing var overridden: %q", got)
	}
	if got := os.Getenv("GUESTMAIL_TEST_DOTENV_B"); got != "from-file" {
		t.Fatalf("expected var from file, got %q", got)
	}
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

// --- Accessor ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.OpenAI.APIKey = "sk-1234567890abcdef"
	cfg.Mail.Password = "hunter2"

	s := Sanitize(cfg)
	if s.Providers.OpenAI.APIKey != "sk-1****cdef" {
		t.Fatalf("unexpected mask: %q", s.Providers.OpenAI.APIKey)
	}
	if s.Mail.Password != "***" {
		t.Fatalf("password not masked: %q", s.Mail.Password)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-1234567890abcdef" {
		t.Fatal("original config mutated")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.Claude.APIKey = "short"
	if got := Sanitize(cfg).Providers.Claude.APIKey; got != "***" {
		t.Fatalf("expected '***', got %q", got)
	}
}

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	if paths["listings.city"] != "Cairo" {
		t.Fatalf("expected listings.city=Cairo, got %v", paths["listings.city"])
	}
	if _, ok := paths["poll.intervalSeconds"]; !ok {
		t.Fatal("missing poll.intervalSeconds")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_MatchPipelineConstants(t *testing.T) {
	cfg := Defaults()
	if cfg.Knowledge.TopK != 3 || cfg.Listings.MaxMatches != 3 {
		t.Fatalf("expected k=3 and 3 matches, got %d/%d", cfg.Knowledge.TopK, cfg.Listings.MaxMatches)
	}
	if cfg.Listings.City != "Cairo" || cfg.Listings.MinGuests != 5 {
		t.Fatalf("unexpected listing filter: %s/%d", cfg.Listings.City, cfg.Listings.MinGuests)
	}
	want := []string{"Zamalek", "Maadi", "Garden City"}
	if strings.Join(cfg.Links.Areas, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected areas: %v", cfg.Links.Areas)
	}
	if cfg.Generation.Temperature != 0.7 || cfg.Generation.MaxTokens != 1000 {
		t.Fatalf("unexpected generation params: %v/%d", cfg.Generation.Temperature, cfg.Generation.MaxTokens)
	}
}

func TestValidate_RequestRate(t *testing.T) {
	cfg := Defaults()
	cfg.Generation.RequestsPerMinute = -1
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "requestsPerMinute") {
		t.Fatalf("expected rate error, got %v", err)
	}
}

func TestDefaults_IgnoreBounces(t *testing.T) {
	if len(Defaults().Filter.IgnoreSenders) == 0 {
		t.Fatal("bounce and no-reply senders should be ignored by default")
	}
}
