package util

import (
	"os"
	"strings"
	"testing"
)

// GetVersion returns the embedded version.txt, so the tests compare
// against that same file as it sits beside the package.
func TestGetVersion(t *testing.T) {
	content, err := os.ReadFile("version.txt")
	if err != nil {
		t.Fatalf("Failed to read version.txt: %v", err)
	}
	want := strings.TrimSpace(string(content))

	version := GetVersion()
	if version != want {
		t.Errorf("Expected version '%s', got '%s'", want, version)
	}
}

func TestGetNameAndVersion(t *testing.T) {
	content, err := os.ReadFile("version.txt")
	if err != nil {
		t.Fatalf("Failed to read version.txt: %v", err)
	}

	result := GetNameAndVersion()
	expected := "stegodon / " + strings.TrimSpace(string(content))

	if result != expected {
		t.Errorf("Expected '%s', got '%s'", expected, result)
	}
}

func TestPrettyPrint(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{
			name:  "simple map",
			input: map[string]string{"key": "value"},
		},
		{
			name:  "nested structure",
			input: map[string]interface{}{"outer": map[string]int{"inner": 42}},
		},
		{
			name:  "array",
			input: []int{1, 2, 3, 4, 5},
		},
		{
			name:  "string",
			input: "simple string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PrettyPrint(tt.input)
			if len(result) == 0 {
				t.Error("PrettyPrint returned empty string")
			}
		})
	}
}
