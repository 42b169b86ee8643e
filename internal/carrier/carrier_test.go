package carrier

import (
	"bytes"
	"net"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	msgs := [][]byte{
		[]byte("CLIENT_HELLO-ish bytes"),
		{},
		bytes.Repeat([]byte{0xAB}, 1200),
	}

	done := make(chan error, 1)
	go func() {
		for _, m := range msgs {
			if err := cc.WriteFrame(m); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for _, want := range msgs {
		got, err := sc.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame mismatch: got %d bytes want %d bytes", len(got), len(want))
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)

	go func() {
		lenBuf := []byte{0x7F, 0xFF, 0xFF, 0xFF} // far beyond MaxFrameSize
		client.Write(lenBuf)
	}()

	if _, err := sc.ReadFrame(); err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}
