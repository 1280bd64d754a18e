package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "stegodon" {
		t.Errorf("Expected Name 'stegodon', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: true
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true")
	}
}

func TestReadConfAppliesDefaults(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.WorkerCount != 4 {
		t.Errorf("Expected default WorkerCount 4, got %d", config.Conf.WorkerCount)
	}
	if config.Conf.RetryAttempts != 10 {
		t.Errorf("Expected default RetryAttempts 10, got %d", config.Conf.RetryAttempts)
	}
	if config.Conf.SignatureMaxAge != 3600 {
		t.Errorf("Expected default SignatureMaxAge 3600, got %d", config.Conf.SignatureMaxAge)
	}
	if config.Conf.DatabasePath != "database.db" {
		t.Errorf("Expected default DatabasePath 'database.db', got %q", config.Conf.DatabasePath)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: false
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("STEGODON_HOST", "192.168.1.1")
	os.Setenv("STEGODON_HTTPPORT", "8080")
	os.Setenv("STEGODON_SSLDOMAIN", "test.example.com")
	os.Setenv("STEGODON_WITH_AP", "true")
	os.Setenv("STEGODON_WORKER_COUNT", "8")

	defer func() {
		os.Unsetenv("STEGODON_HOST")
		os.Unsetenv("STEGODON_HTTPPORT")
		os.Unsetenv("STEGODON_SSLDOMAIN")
		os.Unsetenv("STEGODON_WITH_AP")
		os.Unsetenv("STEGODON_WORKER_COUNT")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com' from env, got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true from env")
	}

	if config.Conf.WorkerCount != 8 {
		t.Errorf("Expected WorkerCount 8 from env, got %d", config.Conf.WorkerCount)
	}
}

func TestReadConfMissingFileUsesEmbeddedDefaults(t *testing.T) {
	os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf should fall back to embedded defaults, got error: %v", err)
	}
	if config.Conf.SslDomain == "" {
		t.Error("Expected embedded default config to set a non-empty SslDomain")
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	invalidYaml := `
conf:
  host: 127.0.0.1
  invalid yaml structure
`
	err := os.WriteFile("config.yaml", []byte(invalidYaml), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	_, err = ReadConf()
	if err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestReadConfInvalidPortEnv(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: false
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("STEGODON_HTTPPORT", "not_a_number")
	defer os.Unsetenv("STEGODON_HTTPPORT")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort to keep YAML value 9999 when env is invalid, got %d", config.Conf.HttpPort)
	}
}

func TestReadConfWithApFalseEnv(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: true
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("STEGODON_WITH_AP", "false")
	defer os.Unsetenv("STEGODON_WITH_AP")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true from YAML when env is not 'true'")
	}
}

func TestAppConfigStruct(t *testing.T) {
	config := &AppConfig{}
	config.Conf.Host = "localhost"
	config.Conf.HttpPort = 80
	config.Conf.SslDomain = "test.com"
	config.Conf.WithAp = true

	if config.Conf.Host != "localhost" {
		t.Errorf("Expected Host 'localhost', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 80 {
		t.Errorf("Expected HttpPort 80, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "test.com" {
		t.Errorf("Expected SslDomain 'test.com', got '%s'", config.Conf.SslDomain)
	}
	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true")
	}
}
