// Package transport sends command messages to the robot control PC.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/config"
)

// ErrTransportFailure wraps any failure to hand a message to the network.
var ErrTransportFailure = errors.New("transport failure")

// refusalWait bounds how long a send listens for a port unreachable reply.
const refusalWait = 100 * time.Millisecond

// Sender hands a message to the actuator. Send reports whether the message
// left the process; it never blocks longer than the configured timeout.
type Sender interface {
	Send(message string) bool
}

// Status describes the channel configuration and last activity.
type Status struct {
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Timeout       float64    `json:"timeout_seconds"`
	BufferSize    int        `json:"buffer_size"`
	Sent          int        `json:"sent"`
	Failed        int        `json:"failed"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	Protocol      string     `json:"protocol"`
	FireAndForget bool       `json:"fire_and_forget"`
}

// UDPChannel sends each message as one UDP datagram on a fresh socket.
// UDP gives no delivery confirmation: success means the datagram was written.
type UDPChannel struct {
	host        string
	port        int
	timeout     time.Duration
	bufferSize  int
	testMessage string
	clock       clockwork.Clock
	logger      *zap.Logger

	mu          sync.Mutex
	sent        int
	failed      int
	lastSentAt  time.Time
	lastError   string
	lastErrorAt time.Time
}

// NewUDPChannel creates a channel from robot configuration.
func NewUDPChannel(cfg config.RobotConfig, clock clockwork.Clock, logger *zap.Logger) *UDPChannel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	testMessage := cfg.TestMessage
	if testMessage == "" {
		testMessage = "TEST_CONNECTION"
	}
	return &UDPChannel{
		host:        cfg.Host,
		port:        cfg.Port,
		timeout:     cfg.Timeout,
		bufferSize:  cfg.BufferSize,
		testMessage: testMessage,
		clock:       clock,
		logger:      logger.With(zap.String("component", "transport")),
	}
}

// Addr returns host:port of the receiver.
func (c *UDPChannel) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Send writes message as a single datagram. Failures are logged and reported
// as false; nothing is retried.
func (c *UDPChannel) Send(message string) bool {
	return c.SendContext(context.Background(), message) == nil
}

// SendContext is Send with an explicit context and error. The configured
// timeout bounds the send even when ctx has a later deadline.
func (c *UDPChannel) SendContext(ctx context.Context, message string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	err := c.send(ctx, message)
	c.record(err)
	if err != nil {
		c.logger.Warn("failed to send message", zap.String("addr", c.Addr()), zap.Int("bytes", len(message)), zap.Error(err))
		return err
	}
	c.logger.Info("message sent", zap.String("addr", c.Addr()), zap.Int("bytes", len(message)))
	return nil
}

func (c *UDPChannel) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *UDPChannel) send(ctx context.Context, message string) error {
	payload := []byte(message)
	if c.bufferSize > 0 && len(payload) > c.bufferSize {
		c.logger.Debug("message larger than receiver buffer", zap.Int("bytes", len(payload)), zap.Int("buffer_size", c.bufferSize))
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "udp", c.Addr())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrTransportFailure, c.Addr(), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: set deadline: %w", ErrTransportFailure, err)
		}
	}

	n, err := conn.Write(payload)
	if err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransportFailure, err)
	}
	if n != len(payload) {
		return fmt.Errorf("%w: short write %d of %d bytes", ErrTransportFailure, n, len(payload))
	}
	return c.checkRefused(ctx, conn)
}

// checkRefused waits briefly for an ICMP port unreachable, which a connected
// UDP socket reports as ECONNREFUSED on the next read. Silence or a reply
// from the receiver counts as sent.
func (c *UDPChannel) checkRefused(ctx context.Context, conn net.Conn) error {
	wait := refusalWait
	if c.timeout > 0 && c.timeout < wait {
		wait = c.timeout
	}
	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set read deadline: %w", ErrTransportFailure, err)
	}

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %s refused the datagram: %w", ErrTransportFailure, c.Addr(), err)
	}
	return nil
}

func (c *UDPChannel) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if err != nil {
		c.failed++
		c.lastError = err.Error()
		c.lastErrorAt = now
		return
	}
	c.sent++
	c.lastSentAt = now
}

// TestConnection sends the configured test message, TEST_CONNECTION by default.
func (c *UDPChannel) TestConnection() bool {
	return c.Send(c.testMessage)
}

// TestMessage returns the message used by TestConnection.
func (c *UDPChannel) TestMessage() string {
	return c.testMessage
}

// Status returns configuration and counters.
func (c *UDPChannel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Host:          c.host,
		Port:          c.port,
		Timeout:       c.timeout.Seconds(),
		BufferSize:    c.bufferSize,
		Sent:          c.sent,
		Failed:        c.failed,
		LastError:     c.lastError,
		Protocol:      "udp",
		FireAndForget: true,
	}
	if !c.lastSentAt.IsZero() {
		t := c.lastSentAt
		s.LastSentAt = &t
	}
	if !c.lastErrorAt.IsZero() {
		t := c.lastErrorAt
		s.LastErrorAt = &t
	}
	return s
}
