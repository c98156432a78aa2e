// Package progress carries crawl progress to whatever displays it.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

type Kind string

const (
	KindTotal  Kind = "total"  // lesson count is known
	KindLesson Kind = "lesson" // one lesson finished (successfully or not)
	KindLog    Kind = "log"
	KindDone   Kind = "done"
)

type Event struct {
	Kind    Kind
	Time    time.Time
	Level   log.Level
	Message string
	Course  string
	Lesson  string
	Done    int
	Total   int
	Err     error
}

// Percent is Done/Total as 0..100, or 0 when the total is unknown.
func (e Event) Percent() int {
	if e.Total <= 0 {
		return 0
	}
	return e.Done * 100 / e.Total
}

// Label renders the "N of M lessons" counter.
func (e Event) Label() string {
	return fmt.Sprintf("%d of %d lessons", e.Done, e.Total)
}

// Sink receives events. Emit must be safe for concurrent use and must not
// block for long; it is called from crawl workers.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// ChanSink delivers events on a buffered channel. When the reader falls
// behind, events are dropped and counted rather than stalling workers.
type ChanSink struct {
	C       chan Event
	dropped atomic.Int64
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan Event, buffer)}
}

func (s *ChanSink) Emit(e Event) {
	select {
	case s.C <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *ChanSink) Dropped() int64 { return s.dropped.Load() }

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Emit(e Event) {
	switch e.Kind {
	case KindTotal:
		s.Logger.Info().Int("total", e.Total).Msg("lessons to download")
	case KindLesson:
		entry := s.Logger.Info()
		if e.Err != nil {
			entry = s.Logger.Warn().Err(e.Err)
		}
		entry.Str("course", e.Course).Str("lesson", e.Lesson).Int("percent", e.Percent()).Msg(e.Label())
	case KindLog:
		s.Logger.WithLevel(e.Level).Str("course", e.Course).Msg(e.Message)
	case KindDone:
		s.Logger.Info().Int("done", e.Done).Int("total", e.Total).Msg(e.Message)
	}
}

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}

// Tracker counts finished lessons and emits the matching events.
type Tracker struct {
	sink Sink

	mu    sync.Mutex
	done  int
	total int
}

func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = Discard
	}
	return &Tracker{sink: sink}
}

// SetTotal resets the counter for a new batch of lessons.
func (t *Tracker) SetTotal(n int) {
	t.mu.Lock()
	t.total = n
	t.done = 0
	t.mu.Unlock()
	t.sink.Emit(Event{Kind: KindTotal, Time: time.Now(), Total: n})
}

func (t *Tracker) LessonDone(course, lesson string, err error) {
	t.mu.Lock()
	t.done++
	done, total := t.done, t.total
	t.mu.Unlock()
	t.sink.Emit(Event{Kind: KindLesson, Time: time.Now(), Course: course, Lesson: lesson, Done: done, Total: total, Err: err})
}

func (t *Tracker) Log(level log.Level, course, msg string) {
	t.sink.Emit(Event{Kind: KindLog, Time: time.Now(), Level: level, Course: course, Message: msg})
}

func (t *Tracker) Finish(msg string) {
	t.mu.Lock()
	done, total := t.done, t.total
	t.mu.Unlock()
	t.sink.Emit(Event{Kind: KindDone, Time: time.Now(), Done: done, Total: total, Message: msg})
}

func (t *Tracker) Counts() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done, t.total
}
