package main

import "testing"

func TestNewLogger(t *testing.T) {
	log, sync, err := newLogger("debug")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	defer sync()
	if !log.V(1).Enabled() {
		t.Fatal("expected V(1) enabled at debug")
	}

	log, sync2, err := newLogger("")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	defer sync2()
	if log.V(1).Enabled() {
		t.Fatal("expected V(1) disabled at info")
	}

	if _, _, err := newLogger("loud"); err == nil {
		t.Fatal("expected error")
	}
}
