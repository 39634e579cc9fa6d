package common

import (
	"strings"
	"testing"
)

func TestGetVersion_Development(t *testing.T) {
	originalVersion := VERSION
	defer func() { VERSION = originalVersion }()

	VERSION = "dev"

	if got := GetVersion(); got != "0.1.0-dev" {
		t.Errorf("Expected development version '0.1.0-dev', got '%s'", got)
	}
}

func TestGetVersion_Release(t *testing.T) {
	originalVersion := VERSION
	defer func() { VERSION = originalVersion }()

	VERSION = "1.2.3"

	if got := GetVersion(); got != "1.2.3" {
		t.Errorf("Expected version '1.2.3', got '%s'", got)
	}
}

func TestGetBuildInfo(t *testing.T) {
	originalVersion := VERSION
	originalCommit := COMMIT
	originalBranch := BRANCH
	defer func() {
		VERSION = originalVersion
		COMMIT = originalCommit
		BRANCH = originalBranch
	}()

	VERSION = "2.0.0"
	COMMIT = "def456"
	BRANCH = "main"

	info := GetBuildInfo()
	if !strings.Contains(info, "2.0.0") || !strings.Contains(info, "def456") {
		t.Errorf("Expected build info to carry version and commit, got '%s'", info)
	}
}
