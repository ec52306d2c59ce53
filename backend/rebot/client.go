package rebot

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldbus/deviceaccess/internal/rawio"
)

// Config configures a Client.
type Config struct {
	Address           string // host:port; no port is filled in (rebot servers conventionally listen on 5001, spec.md §6).
	ConnectionTimeout time.Duration
	Logger            *slog.Logger
}

// Client is RebotClient: a TCP client for the rebot wire protocol. All
// socket I/O, including the heartbeat, is serialized by a single mutex
// per spec.md §4.11.
type Client struct {
	cfg  Config
	conn net.Conn

	mu           sync.Mutex
	serverVersion int32
	lastSend     time.Time

	heartbeatCancel context.CancelFunc
	heartbeatWG     sync.WaitGroup
	stopping        atomic.Bool

	exceptionMu sync.Mutex
	exception   string
}

// New constructs a Client. Open must be called before any transfer.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg}
}

// Open dials the server and runs the hello handshake to negotiate the
// protocol version, then starts the heartbeat goroutine for v1+ servers.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("rebot: dial %s: %w", c.cfg.Address, err)
	}
	c.conn = conn

	if err := c.helloLocked(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	c.lastSend = time.Now()

	if c.serverVersion >= 1 {
		hbCtx, cancel := context.WithCancel(context.Background())
		c.heartbeatCancel = cancel
		c.heartbeatWG.Add(1)
		go c.heartbeatLoop(hbCtx)
	}

	return nil
}

// Close stops the heartbeat and closes the connection.
func (c *Client) Close() error {
	c.stopping.Store(true)
	if c.heartbeatCancel != nil {
		c.heartbeatCancel()
		c.heartbeatWG.Wait()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// helloLocked sends the hello frame and negotiates the protocol version.
// Caller must hold c.mu.
func (c *Client) helloLocked() error {
	if err := c.sendWordsLocked([]int32{cmdHello, magic, clientProtocolVersion}); err != nil {
		return fmt.Errorf("rebot: send hello: %w", err)
	}
	first, err := c.recvWordLocked()
	if err != nil {
		return fmt.Errorf("rebot: recv hello reply: %w", err)
	}
	if first == respUnknownInstruction {
		c.serverVersion = 0
		return nil
	}
	// first is READ_ACK-equivalent framing for hello: two more words
	// follow, the third of which is the server's protocol version.
	second, err := c.recvWordLocked()
	if err != nil {
		return fmt.Errorf("rebot: recv hello reply word 2: %w", err)
	}
	third, err := c.recvWordLocked()
	if err != nil {
		return fmt.Errorf("rebot: recv hello reply word 3: %w", err)
	}
	_ = first
	_ = second
	c.serverVersion = third
	return nil
}

// ReadWords implements rawio-style transfer for a contiguous run of
// words starting at byteAddress within this device's single address
// space (rebot has no BAR concept on the wire; bar must be 0).
func (c *Client) ReadWords(byteAddress uint64, words []uint32) error {
	if byteAddress%4 != 0 {
		return fmt.Errorf("rebot: address %#x is not 4-byte aligned", byteAddress)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.serverVersion == 0 {
		return c.readChunkedLocked(byteAddress, words)
	}
	return c.readOnceLocked(byteAddress, words)
}

func (c *Client) readOnceLocked(byteAddress uint64, words []uint32) error {
	addrInWords := int32(byteAddress / 4)
	if err := c.sendWordsLocked([]int32{cmdMultiWordRead, addrInWords, int32(len(words))}); err != nil {
		return err
	}
	ack, err := c.recvWordLocked()
	if err != nil {
		return err
	}
	if ack != respReadAck {
		return fmt.Errorf("rebot: read: unexpected ack %d", ack)
	}
	for i := range words {
		w, err := c.recvWordLocked()
		if err != nil {
			return err
		}
		words[i] = uint32(w)
	}
	return nil
}

func (c *Client) readChunkedLocked(byteAddress uint64, words []uint32) error {
	offset := 0
	for offset < len(words) {
		n := len(words) - offset
		if n > maxWordsPerReadV0 {
			n = maxWordsPerReadV0
		}
		if err := c.readOnceLocked(byteAddress+uint64(offset)*4, words[offset:offset+n]); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

// WriteWords implements the write half of the transfer. v0 servers have
// no multi-word write command: fall back to a single-word write loop.
func (c *Client) WriteWords(byteAddress uint64, words []uint32) error {
	if byteAddress%4 != 0 {
		return fmt.Errorf("rebot: address %#x is not 4-byte aligned", byteAddress)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.serverVersion == 0 {
		return c.writeSingleWordLoopLocked(byteAddress, words)
	}
	return c.writeMultiWordLocked(byteAddress, words)
}

func (c *Client) writeMultiWordLocked(byteAddress uint64, words []uint32) error {
	addrInWords := int32(byteAddress / 4)
	frame := make([]int32, 0, 3+len(words))
	frame = append(frame, cmdMultiWordWrite, addrInWords, int32(len(words)))
	for _, w := range words {
		frame = append(frame, int32(w))
	}
	if err := c.sendWordsLocked(frame); err != nil {
		return err
	}
	ack, err := c.recvWordLocked()
	if err != nil {
		return err
	}
	if ack != respWriteAck {
		return fmt.Errorf("rebot: write: unexpected ack %d", ack)
	}
	return nil
}

func (c *Client) writeSingleWordLoopLocked(byteAddress uint64, words []uint32) error {
	for i, w := range words {
		addrInWords := int32(byteAddress/4) + int32(i)
		if err := c.sendWordsLocked([]int32{cmdSingleWordWrite, addrInWords, int32(w)}); err != nil {
			return err
		}
		ack, err := c.recvWordLocked()
		if err != nil {
			return err
		}
		if ack != respWriteAck {
			return fmt.Errorf("rebot: write word %d: unexpected ack %d", i, ack)
		}
	}
	return nil
}

func (c *Client) sendWordsLocked(words []int32) error {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], uint32(w))
	}
	if _, err := c.conn.Write(buf); err != nil {
		return err
	}
	c.lastSend = time.Now()
	return nil
}

func (c *Client) recvWordLocked() (int32, error) {
	var buf [4]byte
	if _, err := readFull(c.conn, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
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

// heartbeatLoop re-sends the hello frame whenever more than half the
// connection timeout has elapsed with no socket traffic, using
// cenkalti/backoff to space out retries after a failed send instead of
// busy-looping against a dead connection.
func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.heartbeatWG.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()

	checkInterval := c.cfg.ConnectionTimeout / 4
	if checkInterval <= 0 {
		checkInterval = time.Second
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.stopping.Load() {
				return
			}
			if err := c.maybeSendHeartbeat(); err != nil {
				c.setException(err.Error())
				wait := b.NextBackOff()
				if wait == backoff.Stop {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			b.Reset()
		}
	}
}

func (c *Client) maybeSendHeartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("rebot: heartbeat: connection closed")
	}
	if time.Since(c.lastSend) < c.cfg.ConnectionTimeout/2 {
		return nil
	}
	return c.helloLocked()
}

func (c *Client) setException(msg string) {
	c.exceptionMu.Lock()
	c.exception = msg
	c.exceptionMu.Unlock()
	c.cfg.Logger.Warn("rebot: heartbeat failure", slog.String("error", msg))
}

// ActiveException reports the last recorded fault, if any.
func (c *Client) ActiveException() (string, bool) {
	c.exceptionMu.Lock()
	defer c.exceptionMu.Unlock()
	return c.exception, c.exception != ""
}

var _ rawio.Channel = (*sizedClient)(nil)

// sizedClient adapts Client to rawio.Channel by pairing it with a fixed
// address-space size, for backends that want to treat a rebot connection
// as a single BAR-0 channel.
type sizedClient struct {
	*Client
	size uint64
}

// AsChannel wraps c as a rawio.Channel reporting the given address-space
// size (in bytes).
func (c *Client) AsChannel(size uint64) rawio.Channel {
	return &sizedClient{Client: c, size: size}
}

func (s *sizedClient) Size() uint64 { return s.size }
func (s *sizedClient) Close() error { return s.Client.Close() }
