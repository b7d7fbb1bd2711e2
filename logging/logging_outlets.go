package logging

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/logger"
)

type EntryFormatter interface {
	SetMetadataFlags(flags MetadataFlags)
	Format(e *logger.Entry) ([]byte, error)
}

// formatLine formats e and terminates it with a newline.
func formatLine(f EntryFormatter, e *logger.Entry) ([]byte, error) {
	b, err := f.Format(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// WriterOutlet writes one line per entry to an io.Writer.
type WriterOutlet struct {
	formatter EntryFormatter
	writer    io.Writer
}

func NewWriterOutlet(formatter EntryFormatter, w io.Writer) WriterOutlet {
	return WriterOutlet{formatter, w}
}

func (o WriterOutlet) WriteEntry(entry logger.Entry) error {
	line, err := formatLine(o.formatter, &entry)
	if err != nil {
		return err
	}
	_, err = o.writer.Write(line)
	return err
}

// TCPOutlet ships entries to a log collector over TCP, optionally
// with TLS. Entries are sent by a background goroutine; WriteEntry
// fails instead of blocking while the collector is unreachable or slow.
type TCPOutlet struct {
	formatter     EntryFormatter
	dial          func(ctx context.Context) (net.Conn, error)
	retryInterval time.Duration
	lines         chan []byte
	closeOnce     sync.Once
	done          chan struct{}
}

// NewTCPOutlet sends entries to address. After a connection error,
// entries written during retryInterval are dropped.
func NewTCPOutlet(formatter EntryFormatter, network, address string, tlsConfig *tls.Config, retryInterval time.Duration) *TCPOutlet {
	dialer := &net.Dialer{}
	dial := func(ctx context.Context) (net.Conn, error) {
		if tlsConfig != nil {
			td := tls.Dialer{NetDialer: dialer, Config: tlsConfig}
			return td.DialContext(ctx, network, address)
		}
		return dialer.DialContext(ctx, network, address)
	}
	o := &TCPOutlet{
		formatter:     formatter,
		dial:          dial,
		retryInterval: retryInterval,
		// one line may queue while the previous one is written
		lines: make(chan []byte, 1),
		done:  make(chan struct{}),
	}
	go o.sendLoop()
	return o
}

// Close stops the outlet after the queued line was sent.
// WriteEntry must not be called afterwards.
func (o *TCPOutlet) Close() {
	o.closeOnce.Do(func() { close(o.lines) })
	<-o.done
}

// connect dials until it succeeds, waiting retryInterval after a failure.
func (o *TCPOutlet) connect(notBefore time.Time) net.Conn {
	for {
		time.Sleep(time.Until(notBefore))
		ctx, cancel := context.WithTimeout(context.Background(), o.retryInterval)
		c, err := o.dial(ctx)
		cancel()
		if err == nil {
			return c
		}
		notBefore = time.Now().Add(o.retryInterval)
	}
}

func (o *TCPOutlet) sendLoop() {
	defer close(o.done)
	var c net.Conn
	var notBefore time.Time
	for line := range o.lines {
		if c == nil {
			c = o.connect(notBefore)
		}
		err := c.SetWriteDeadline(time.Now().Add(o.retryInterval))
		if err == nil {
			_, err = c.Write(line)
		}
		if err != nil {
			c.Close()
			c = nil
			notBefore = time.Now().Add(o.retryInterval)
		}
	}
	if c != nil {
		c.Close()
	}
}

func (o *TCPOutlet) WriteEntry(e logger.Entry) error {
	line, err := formatLine(o.formatter, &e)
	if err != nil {
		return err
	}
	select {
	case o.lines <- line:
		return nil
	default:
		return errors.New("log collector unreachable or too slow")
	}
}
