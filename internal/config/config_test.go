package config

import "testing"

func TestDefaultConfigPassesValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsZeroWorkerCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extractor.WorkerCount = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for worker_count 0")
	}
}

func TestValidateRejectsBadScraperType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scraper.Type = "imaginary"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unsupported scraper.type")
	}
}

func TestValidateRejectsLowHangTimeoutScale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extractor.HangTimeoutScale = 1.0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for hang_timeout_scale <= 1.0")
	}
}

func TestValidateRejectsEmptyMongoURI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mongo.URI = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for empty mongo.uri")
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url     string
		wantErr bool
	}{
		{"https://leginfo.legislature.ca.gov/faces/codes.xhtml", false},
		{"http://example.com", false},
		{"ftp://example.com", true},
		{"not-a-url", true},
	}
	for _, c := range cases {
		err := ValidateURL(c.url)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateURL(%q): wantErr=%v, got %v", c.url, c.wantErr, err)
		}
	}
}
