package rebot_test

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/fieldbus/deviceaccess/backend/rebot"
)

// fakeServerV1 speaks just enough of the v1 rebot protocol to exercise
// Client's hello, read, and write paths: hello replies with
// [magic, magic, version], multi-word read/write against an in-memory
// word array.
func fakeServerV1(t *testing.T, ln net.Listener, mem []uint32) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	readWord := func() (int32, bool) {
		var buf [4]byte
		if _, err := readFullTest(conn, buf[:]); err != nil {
			return 0, false
		}
		return int32(binary.LittleEndian.Uint32(buf[:])), true
	}
	writeWord := func(w int32) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(w))
		conn.Write(buf[:])
	}

	for {
		cmd, ok := readWord()
		if !ok {
			return
		}
		switch cmd {
		case 4: // HELLO
			_, _ = readWord() // magic
			_, _ = readWord() // client version
			writeWord(0x72626f74)
			writeWord(0x72626f74)
			writeWord(1) // server version 1
		case 3: // MULTI_WORD_READ
			addr, _ := readWord()
			n, _ := readWord()
			writeWord(1000) // READ_ACK
			for i := int32(0); i < n; i++ {
				writeWord(int32(mem[addr+i]))
			}
		case 2: // MULTI_WORD_WRITE
			addr, _ := readWord()
			n, _ := readWord()
			for i := int32(0); i < n; i++ {
				w, _ := readWord()
				mem[addr+i] = uint32(w)
			}
			writeWord(1001) // WRITE_ACK
		}
	}
}

func readFullTest(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestClientV1ReadWriteRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	mem := make([]uint32, 16)
	go fakeServerV1(t, ln, mem)

	client := rebot.New(rebot.Config{Address: ln.Addr().String(), ConnectionTimeout: 10 * time.Second})
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	if err := client.WriteWords(4, []uint32{0xCAFEBABE}); err != nil {
		t.Fatalf("WriteWords: %v", err)
	}
	got := make([]uint32, 1)
	if err := client.ReadWords(4, got); err != nil {
		t.Fatalf("ReadWords: %v", err)
	}
	if got[0] != 0xCAFEBABE {
		t.Errorf("read back = %#x, want 0xCAFEBABE", got[0])
	}
}

func TestClientRejectsMisalignedAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	mem := make([]uint32, 16)
	go fakeServerV1(t, ln, mem)

	client := rebot.New(rebot.Config{Address: ln.Addr().String(), ConnectionTimeout: 10 * time.Second})
	if err := client.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	if err := client.ReadWords(3, make([]uint32, 1)); err == nil {
		t.Error("expected misaligned address to be rejected")
	}
}
