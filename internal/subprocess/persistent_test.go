package subprocess

import (
	"encoding/binary"
	"net"
	"testing"
)

func TestIterateWritesLengthPrefixAndPayloadThenWaitsForAck(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := NewPersistentSession(client)
	done := make(chan error, 1)
	go func() { done <- sess.Iterate([]byte("abc")) }()

	var lenBuf [4]byte
	if _, err := server.Read(lenBuf[:]); err != nil {
		t.Fatalf("server read length: %v", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n != 3 {
		t.Fatalf("expected length 3, got %d", n)
	}

	payload := make([]byte, n)
	if _, err := server.Read(payload); err != nil {
		t.Fatalf("server read payload: %v", err)
	}
	if string(payload) != "abc" {
		t.Fatalf("expected payload %q, got %q", "abc", payload)
	}

	if _, err := server.Write([]byte{ackByte}); err != nil {
		t.Fatalf("server write ack: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Iterate: %v", err)
	}
}

func TestIterateSucceedsAcrossManyCalls(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := NewPersistentSession(client)

	serveOne := func(want string) {
		var lenBuf [4]byte
		server.Read(lenBuf[:])
		payload := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		server.Read(payload)
		if string(payload) != want {
			t.Errorf("expected payload %q, got %q", want, payload)
		}
		server.Write([]byte{ackByte})
	}

	for _, data := range []string{"first", "second", "third"} {
		done := make(chan error, 1)
		go func() { done <- sess.Iterate([]byte(data)) }()
		serveOne(data)
		if err := <-done; err != nil {
			t.Fatalf("Iterate(%q): %v", data, err)
		}
	}
}

func TestIterateRejectsWrongAckByte(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := NewPersistentSession(client)
	go func() {
		var lenBuf [4]byte
		server.Read(lenBuf[:])
		server.Read(make([]byte, binary.LittleEndian.Uint32(lenBuf[:])))
		server.Write([]byte{'Z'})
	}()

	if err := sess.Iterate([]byte("x")); err == nil {
		t.Fatal("expected an error for a non-'A' ack byte")
	}
}

func TestIterateReportsErrorWhenConnectionBreaks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess := NewPersistentSession(client)
	server.Close() // simulate the child having crashed/exited already

	if err := sess.Iterate([]byte("x")); err == nil {
		t.Fatal("expected an error once the connection is closed")
	}
}
