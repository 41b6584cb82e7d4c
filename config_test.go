package offlineproxy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	contents := `
version: news-v3
origin: https://news.example.com
apiHost: api.example.com
apiPathSegment: /api/
staticPrefix: /static/
fallbackPage: /offline.html
writeThrough: true
assets:
  - /static/style.css
  - /static/app.js
  - /offline.html
`
	filename := filepath.Join(t.TempDir(), "offline-proxy.yaml")
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if config.Version != "news-v3" {
		t.Fatalf("version is %s", config.Version)
	}
	if config.Origin != "https://news.example.com" {
		t.Fatalf("origin is %s", config.Origin)
	}
	if config.APIHost != "api.example.com" {
		t.Fatalf("apiHost is %s", config.APIHost)
	}
	if !config.WriteThrough {
		t.Fatal("writeThrough not set")
	}
	if len(config.Assets) != 3 || config.Assets[2] != "/offline.html" {
		t.Fatalf("assets are %v", config.Assets)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
