// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func assertEqual(supplied, expected interface{}, t *testing.T) {
	t.Helper()
	if !reflect.DeepEqual(supplied, expected) {
		t.Errorf("expected %v but got %v", expected, supplied)
	}
}

func TestParseTypeString(t *testing.T) {
	types, excluded, err := ParseTypeString("* -SASL -throttle")
	assertEqual(err, nil, t)
	assertEqual(types, []string{"*"}, t)
	assertEqual(excluded, []string{"sasl", "throttle"}, t)

	_, _, err = ParseTypeString("")
	if err == nil {
		t.Errorf("accepted empty type string")
	}
	_, _, err = ParseTypeString("-sasl")
	if err == nil {
		t.Errorf("accepted type string with only exclusions")
	}
	_, _, err = ParseTypeString("* -")
	if err == nil {
		t.Errorf("accepted bare -")
	}
}

func TestLevelAndTypeFiltering(t *testing.T) {
	var buf bytes.Buffer
	manager, err := NewManager([]LoggingConfig{{
		Writer:        &buf,
		Types:         []string{"*"},
		ExcludedTypes: []string{"saslserv"},
		Level:         LogInfo,
	}})
	if err != nil {
		t.Fatal(err)
	}

	manager.Debug("accounts", "hidden")
	manager.Info("sasl", "hidden")
	manager.Warning("chanacs", "alice", "set +o")
	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("captured filtered line: %q", output)
	}
	if !strings.Contains(output, " : warn  : chanacs    : alice : set +o\n") {
		t.Errorf("unexpected output: %q", output)
	}
	assertEqual(strings.Count(output, "\n"), 1, t)
}

func TestIsLoggingType(t *testing.T) {
	var buf bytes.Buffer
	manager := NewWriterManager(&buf, LogDebug)
	assertEqual(manager.IsLoggingType("sasl"), true, t)

	manager, _ = NewManager([]LoggingConfig{{
		Writer: &buf,
		Types:  []string{"groups"},
		Level:  LogDebug,
	}})
	assertEqual(manager.IsLoggingType("groupserv"), false, t)
	assertEqual(manager.IsLoggingType("groups"), true, t)
	assertEqual(manager.IsLoggingType("sasl"), false, t)
}

func TestNilManager(t *testing.T) {
	var manager *Manager
	// must not panic
	manager.Info("server", "nobody is listening")
}

func TestFileMethod(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "services.log")
	manager, err := NewManager([]LoggingConfig{{
		MethodFile: true,
		Filename:   filename,
		Types:      []string{"datastore"},
		Level:      LogInfo,
	}})
	if err != nil {
		t.Fatal(err)
	}
	manager.Info("datastore", "saved")
	manager.Close()

	contents, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(contents), " : info  : datastore  : saved\n") {
		t.Errorf("unexpected file contents: %q", contents)
	}
}
