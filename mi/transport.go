package mi

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// AsyncHandler is invoked for every async-exec, async-notify and
// async-status record the debugger emits, in the order received.
type AsyncHandler func(Record)

// StreamHandler is invoked for every console/target/log stream record.
type StreamHandler func(Record)

// Transport owns a GDB/MI child process's stdin/stdout pipes. It
// serializes outgoing commands, tags each with a monotonic token,
// parses incoming records, and routes result records back to their
// caller while fanning out async and stream records to registered
// listeners.
//
// A Transport is safe for concurrent use. Exactly one result record is
// ever delivered per outstanding command; spec's FIFO-per-caller
// ordering comes from GDB itself processing one command at a time, not
// from any queuing done here.
type Transport struct {
	w io.Writer

	nextToken atomic.Int64

	mu      sync.Mutex
	pending map[int]chan Record
	closed  bool
	closeErr error

	onAsync  AsyncHandler
	onStream StreamHandler

	log *logrus.Entry
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithAsyncHandler registers the callback for exec/notify/status async
// records.
func WithAsyncHandler(fn AsyncHandler) Option {
	return func(t *Transport) { t.onAsync = fn }
}

// WithStreamHandler registers the callback for console/target/log
// stream records.
func WithStreamHandler(fn StreamHandler) Option {
	return func(t *Transport) { t.onStream = fn }
}

// WithLogger attaches a logger used to trace raw traffic at debug
// level. If omitted, the standard logrus logger is used.
func WithLogger(log *logrus.Entry) Option {
	return func(t *Transport) { t.log = log }
}

// NewTransport starts reading r on a background goroutine and returns a
// Transport that writes commands to w. The caller remains responsible
// for closing r/w (typically by killing the child process); once the
// read loop observes EOF or a read error on r, every in-flight Send is
// unblocked with a TransportClosed error and later Sends fail at once.
func NewTransport(r io.Reader, w io.Writer, opts ...Option) *Transport {
	t := &Transport{
		w:       w,
		pending: make(map[int]chan Record),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(t)
	}

	go t.readLoop(r)
	return t
}

func (t *Transport) readLoop(r io.Reader) {
	br := bufio.NewReader(r)
	p := NewParser()
	buf := make([]byte, 4096)

	fail := func(err error) {
		t.mu.Lock()
		t.closed = true
		t.closeErr = err
		pending := t.pending
		t.pending = nil
		t.mu.Unlock()

		for tok, ch := range pending {
			t.log.WithField("token", tok).Debug("mi: dropping pending command on transport close")
			close(ch)
		}
	}

	for {
		n, err := br.Read(buf)
		if n > 0 {
			recs, perr := p.Feed(buf[:n])
			for _, rec := range recs {
				t.dispatch(rec)
			}
			if perr != nil {
				t.log.WithError(perr).Warn("mi: discarding malformed record")
			}
		}
		if err != nil {
			if err != io.EOF {
				fail(&Error{Kind: TransportClosed, Message: err.Error()})
			} else {
				fail(&Error{Kind: TransportClosed, Message: "debugger stdout closed"})
			}
			return
		}
	}
}

func (t *Transport) dispatch(rec Record) {
	t.log.WithField("record", rec.String()).Trace("mi: received")

	switch rec.Kind {
	case KindResult:
		t.mu.Lock()
		ch, ok := t.pending[rec.Token]
		if ok {
			delete(t.pending, rec.Token)
		}
		t.mu.Unlock()
		if ok {
			ch <- rec
			close(ch)
		} else {
			t.log.WithField("record", rec.String()).Warn("mi: dropping unsolicited result record")
		}
	case KindAsyncExec, KindAsyncNotify, KindAsyncStatus:
		if t.onAsync != nil {
			t.onAsync(rec)
		}
	case KindStream:
		if t.onStream != nil {
			t.onStream(rec)
		}
	case KindPrompt:
		// No action: the prompt only ever signals readiness for the
		// next command, which we don't gate on since GDB/MI accepts
		// commands at any time once the pipe is open.
	}
}

// Send writes an MI command built from name and args (already quoted
// as needed by the caller) and blocks until GDB's result record for it
// arrives or ctx is canceled.
func (t *Transport) Send(ctx context.Context, name string, args ...string) (Record, error) {
	token := int(t.nextToken.Add(1))

	ch := make(chan Record, 1)
	t.mu.Lock()
	if t.closed {
		err := t.closeErr
		t.mu.Unlock()
		if err == nil {
			err = &Error{Kind: TransportClosed, Message: "transport closed"}
		}
		return Record{}, err
	}
	t.pending[token] = ch
	t.mu.Unlock()

	var b strings.Builder
	b.WriteString(strconv.Itoa(token))
	b.WriteByte('-')
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')

	line := b.String()
	t.log.WithField("command", line[:len(line)-1]).Trace("mi: sending")

	if err := t.write(line); err != nil {
		t.mu.Lock()
		delete(t.pending, token)
		t.mu.Unlock()
		return Record{}, &Error{Kind: TransportClosed, Message: err.Error()}
	}

	select {
	case rec, ok := <-ch:
		if !ok {
			t.mu.Lock()
			err := t.closeErr
			t.mu.Unlock()
			if err == nil {
				err = &Error{Kind: TransportClosed, Message: "transport closed"}
			}
			return Record{}, err
		}
		if rec.Class == string(ClassError) {
			return rec, newGdbError(name, rec.Fields)
		}
		return rec, nil
	case <-ctx.Done():
		// There is no per-request cancellation: the command stays
		// pending in GDB and its entry stays registered, so when the
		// result record eventually arrives dispatch delivers it into
		// the buffered channel, where nobody reads it. We still return
		// promptly for the caller's convenience.
		return Record{}, ctx.Err()
	}
}

func (t *Transport) write(s string) error {
	_, err := io.WriteString(t.w, s)
	return err
}

// QuoteString renders s as an MI c-string literal: wrapped in double
// quotes with backslashes, quotes, and control characters escaped.
func QuoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
