package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/joeycumines/logiface"
)

// event is the logiface.Event implementation backing StructuredLogger. It
// renders as a single line of space-separated key=value pairs, in the
// style of a level-gated text logger rather than JSON, favoring
// grep-ability over a parser.
type event struct {
	logiface.UnimplementedEvent
	lvl logiface.Level
	buf []byte
}

func (e *event) Level() logiface.Level { return e.lvl }

func (e *event) AddField(key string, val any) {
	e.appendField(key, val)
}

func (e *event) AddMessage(msg string) bool {
	e.buf = append(e.buf, "msg="...)
	e.buf = append(e.buf, msg...)
	e.buf = append(e.buf, ' ')
	return true
}

func (e *event) AddError(err error) bool {
	e.appendField("err", err.Error())
	return true
}

func (e *event) AddString(key string, val string) bool {
	e.appendField(key, val)
	return true
}

func (e *event) appendField(key string, val any) {
	e.buf = append(e.buf, key...)
	e.buf = append(e.buf, '=')
	e.buf = append(e.buf, fmtValue(val)...)
	e.buf = append(e.buf, ' ')
}

func fmtValue(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

var eventPool = sync.Pool{New: func() any {
	return &event{buf: make([]byte, 0, 256)}
}}

// structuredWriter implements logiface.Writer[*event], flushing each
// completed event to an underlying io.Writer and returning the event to
// the pool.
type structuredWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *structuredWriter) Write(e *event) error {
	s.mu.Lock()
	_, err := s.w.Write(append(e.buf, '\n'))
	s.mu.Unlock()

	e.buf = e.buf[:0]
	eventPool.Put(e)
	return err
}

func newEvent(level logiface.Level) *event {
	e := eventPool.Get().(*event)
	e.lvl = level
	e.buf = e.buf[:0]
	return e
}

// NewStructuredLogger builds a logiface logger writing level-gated text
// lines to w. It is a standalone sink for application logs: the dispatch
// core itself always logs through the plain Logger in logger.go and does
// not write to this one.
func NewStructuredLogger(w io.Writer, level logiface.Level) *logiface.Logger[*event] {
	return logiface.New[*event](
		logiface.WithEventFactory[*event](logiface.NewEventFactoryFunc(newEvent)),
		logiface.WithWriter[*event](logiface.NewWriterFunc((&structuredWriter{w: w}).Write)),
		logiface.WithLevel[*event](level),
	)
}
