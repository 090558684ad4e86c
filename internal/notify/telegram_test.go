package notify

import (
	"os"
	"path/filepath"
	"testing"
)

// chdir points the working directory at a temp dir for the duration of
// the test, since loadChatID/saveChatID resolve chatIDFile relative to cwd.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadChatIDReturnsZeroWhenFileMissing(t *testing.T) {
	chdir(t, t.TempDir())
	s := &Service{}
	if got := s.loadChatID(); got != 0 {
		t.Errorf("loadChatID on a missing file = %d, want 0", got)
	}
}

func TestSaveThenLoadChatIDRoundTrips(t *testing.T) {
	chdir(t, t.TempDir())
	s := &Service{}
	s.saveChatID(123456789)

	got := s.loadChatID()
	if got != 123456789 {
		t.Errorf("loadChatID after save = %d, want 123456789", got)
	}
}

func TestLoadChatIDIgnoresGarbageContent(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, chatIDFile), []byte("not-a-number"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := &Service{}
	if got := s.loadChatID(); got != 0 {
		t.Errorf("loadChatID on garbage content = %d, want 0", got)
	}
}

func TestNotifyOnNilServiceIsANoOp(t *testing.T) {
	var s *Service
	s.Notify("should not panic")
}
