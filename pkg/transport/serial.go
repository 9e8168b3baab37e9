package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/itohio/buttonb/pkg/mesh"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the border router UART speed.
	DefaultBaudRate = 115200
	// DefaultAckTimeout bounds how long a message waits for its ack line.
	DefaultAckTimeout = 5 * time.Second
)

// SerialConfig configures the serial link to the border router.
type SerialConfig struct {
	Port       string
	BaudRate   int
	AckTimeout time.Duration
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

type pendingMessage struct {
	done Completion

	mu    sync.Mutex
	timer *time.Timer
}

// arm starts the ack timeout; onTimeout runs on the timer goroutine.
func (p *pendingMessage) arm(d time.Duration, onTimeout func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = time.AfterFunc(d, onTimeout)
}

func (p *pendingMessage) disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Serial is a line-oriented link to a border router that forwards messages
// into the mesh.
//
// Uplink lines:
//
//	M,<seq>,<hex payload>   message for the collector
//	P,<ms>                  set parent poll period
//
// Downlink lines:
//
//	A,<seq>,<result>[,<hex payload>]   delivery result for message seq
//	R,<role>                           device role changed
type Serial struct {
	cfg SerialConfig
	log logrus.FieldLogger

	conn      io.ReadWriteCloser
	mu        sync.RWMutex
	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	seq     atomic.Uint32
	pending *hashmap.Map[uint32, *pendingMessage]

	roleMu sync.RWMutex
	onRole func(mesh.Role)
}

var (
	_ Transport           = (*Serial)(nil)
	_ mesh.PollController = (*Serial)(nil)
)

// NewSerial creates a serial transport. Call Connect to open the port.
func NewSerial(cfg SerialConfig, log logrus.FieldLogger) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		cfg:     cfg,
		log:     log.WithField("port", cfg.Port),
		ctx:     ctx,
		cancel:  cancel,
		pending: hashmap.New[uint32, *pendingMessage](),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading downlink lines.
func (s *Serial) Connect() error {
	port, err := serial.Open(s.cfg.Port, &serial.Mode{BaudRate: s.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.cfg.Port, err)
	}
	if err := s.attach(port); err != nil {
		port.Close()
		return err
	}
	return nil
}

// attach starts the link over an already open connection.
func (s *Serial) attach(conn io.ReadWriteCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	s.conn = conn
	s.connected = true

	go s.readFrames(conn)

	return nil
}

// OnRoleChange registers the handler for role lines. It runs on the reader
// goroutine.
func (s *Serial) OnRoleChange(fn func(mesh.Role)) {
	s.roleMu.Lock()
	defer s.roleMu.Unlock()
	s.onRole = fn
}

// Send implements Transport.
func (s *Serial) Send(payload []byte, done Completion) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return false
	}

	seq := s.seq.Add(1)
	p := &pendingMessage{done: done}
	s.pending.Set(seq, p)
	p.arm(s.cfg.AckTimeout, func() {
		s.resolve(seq, nil, ResultTimeout)
	})

	line := fmt.Sprintf("M,%d,%s\n", seq, hex.EncodeToString(payload))
	if err := s.writeLine(line); err != nil {
		s.log.WithError(err).Warn("Failed to write message")
		if !s.pending.Del(seq) {
			// the timeout already completed it
			return true
		}
		p.disarm()
		return false
	}
	return true
}

// SetPollPeriod implements mesh.PollController.
func (s *Serial) SetPollPeriod(period time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return ErrNotConnected
	}
	if err := s.writeLine(fmt.Sprintf("P,%d\n", period.Milliseconds())); err != nil {
		return fmt.Errorf("failed to send poll period: %w", err)
	}
	return nil
}

// Close closes the port. Pending messages resolve with ResultFailed.
func (s *Serial) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}

	s.cancel()

	if err := s.conn.Close(); err != nil {
		s.log.WithError(err).Warn("Error closing serial port")
	}
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	var seqs []uint32
	s.pending.Range(func(seq uint32, _ *pendingMessage) bool {
		seqs = append(seqs, seq)
		return true
	})
	for _, seq := range seqs {
		s.resolve(seq, nil, ResultFailed)
	}

	return nil
}

// IsConnected returns whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Serial) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.conn, line)
	return err
}

// resolve completes a pending message once; later calls for the same seq,
// such as a timeout racing an ack, are ignored.
func (s *Serial) resolve(seq uint32, resp *Response, res Result) {
	p, ok := s.pending.Get(seq)
	if !ok || !s.pending.Del(seq) {
		return
	}
	p.disarm()
	p.done(resp, res)
}

// readFrames reads lines from the border router until the port closes.
func (s *Serial) readFrames(conn io.Reader) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Panic in readFrames: %v", r)
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		f, err := parseLine(line)
		if err != nil {
			s.log.WithError(err).Warnf("Failed to parse line '%s'", line)
			continue
		}

		switch f.kind {
		case 'A':
			s.resolve(f.seq, f.resp, f.result)
		case 'R':
			s.roleMu.RLock()
			fn := s.onRole
			s.roleMu.RUnlock()
			if fn != nil {
				fn(f.role)
			}
		}
	}

	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		s.log.WithError(err).Warn("Error reading from serial port")
	}
}

type frame struct {
	kind   byte
	seq    uint32
	result Result
	resp   *Response
	role   mesh.Role
}

// parseLine parses one downlink line.
// Examples: "A,12,ok", "A,13,ok,a1616101", "A,14,timeout", "R,child"
func parseLine(line string) (frame, error) {
	parts := strings.Split(line, ",")

	switch parts[0] {
	case "A":
		if len(parts) != 3 && len(parts) != 4 {
			return frame{}, fmt.Errorf("invalid ack line: expected 3 or 4 comma-separated values, got %d", len(parts))
		}
		seq, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return frame{}, fmt.Errorf("invalid sequence: %w", err)
		}
		res, err := ParseResult(parts[2])
		if err != nil {
			return frame{}, err
		}
		f := frame{kind: 'A', seq: uint32(seq), result: res}
		if len(parts) == 4 {
			payload, err := hex.DecodeString(parts[3])
			if err != nil {
				return frame{}, fmt.Errorf("invalid response payload: %w", err)
			}
			f.resp = &Response{Payload: payload}
		}
		return f, nil

	case "R":
		if len(parts) != 2 {
			return frame{}, fmt.Errorf("invalid role line: expected 2 comma-separated values, got %d", len(parts))
		}
		role, ok := mesh.ParseRole(parts[1])
		if !ok {
			return frame{}, fmt.Errorf("unknown role %q", parts[1])
		}
		return frame{kind: 'R', role: role}, nil

	default:
		return frame{}, fmt.Errorf("unknown line type %q", parts[0])
	}
}
