package synthetic

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/still-capture/internal/media"
)

// Pipeline is a synthetic media.Pipeline.
type Pipeline struct {
	rt   *Runtime
	name string
	bus  *Bus

	mu       sync.Mutex
	elements []*element
	state    media.State
	stop     chan struct{}
	done     chan struct{}

	produced atomic.Uint64
}

func newPipeline(rt *Runtime, name string) *Pipeline {
	return &Pipeline{
		rt:   rt,
		name: name,
		bus:  newBus(),
	}
}

func (p *Pipeline) Name() string   { return p.name }
func (p *Pipeline) Bus() media.Bus { return p.bus }

// Post appends msg to the pipeline bus, as an element would.
func (p *Pipeline) Post(msg media.Message) {
	p.bus.post(&msg)
}

// State returns the current pipeline state.
func (p *Pipeline) State() media.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Produced returns the number of frames that reached a sink.
func (p *Pipeline) Produced() uint64 {
	return p.produced.Load()
}

func (p *Pipeline) Add(el media.Element) error {
	e, ok := el.(*element)
	if !ok {
		return fmt.Errorf("synthetic: cannot add foreign element %s", el.Name())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e.owner != nil {
		return fmt.Errorf("synthetic: %s already belongs to %s", e.name, e.owner.name)
	}
	for _, existing := range p.elements {
		if existing.name == e.name {
			return fmt.Errorf("synthetic: name %q already used in %s", e.name, p.name)
		}
	}
	e.owner = p
	p.elements = append(p.elements, e)
	return nil
}

// SetState starts frame production on PLAYING and stops it on any other state.
func (p *Pipeline) SetState(state media.State) error {
	p.mu.Lock()
	old := p.state
	if old == state {
		p.mu.Unlock()
		return nil
	}

	if state == media.StatePlaying {
		src := p.sourceLocked()
		if src == nil {
			p.mu.Unlock()
			return fmt.Errorf("synthetic: %s has no source element", p.name)
		}
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		go p.stream(src, p.stop, p.done)
	} else if old == media.StatePlaying {
		close(p.stop)
		done := p.done
		p.stop, p.done = nil, nil
		p.state = state
		p.mu.Unlock()
		// Wait outside the lock; the streaming goroutine may be posting.
		<-done
		p.bus.post(&media.Message{Type: media.MessageStateChanged, Source: p.name, OldState: old, NewState: state})
		return nil
	}

	p.state = state
	p.mu.Unlock()

	p.bus.post(&media.Message{Type: media.MessageStateChanged, Source: p.name, OldState: old, NewState: state})
	return nil
}

// sourceLocked returns the head of the chain. Caller holds mu.
func (p *Pipeline) sourceLocked() *element {
	for _, e := range p.elements {
		switch e.factory {
		case "videotestsrc", "v4l2src", "toupcamsrc":
			if e.prev == nil {
				return e
			}
		}
	}
	return nil
}

// stream is the synthetic streaming thread.
func (p *Pipeline) stream(src *element, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticks := p.rt.ticks
	if ticks == nil {
		ticker := time.NewTicker(p.rt.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	limit := -1
	if v, ok := src.property("num-buffers"); ok {
		if n, ok := v.(int); ok && n >= 0 {
			limit = n
		}
	}

	var seq uint64
	for {
		if limit >= 0 && seq >= uint64(limit) {
			slog.Debug("synthetic: num-buffers reached, posting EOS", "pipeline", p.name, "frames", seq)
			p.bus.post(&media.Message{Type: media.MessageEOS, Source: src.name})
			<-stop
			return
		}

		select {
		case <-stop:
			return
		case _, ok := <-ticks:
			if !ok {
				<-stop
				return
			}
		}

		if err := p.push(src, seq); err != nil {
			p.bus.post(&media.Message{
				Type:   media.MessageError,
				Source: src.name,
				Text:   "Internal data stream error.",
				Debug:  err.Error(),
			})
			<-stop
			return
		}
		seq++
	}
}

// push renders one frame at src and walks it down the chain.
func (p *Pipeline) push(src *element, seq uint64) error {
	f := &frame{width: defaultWidth, height: defaultHeight, seq: seq}
	if v, ok := src.property("pattern"); ok {
		if code, ok := v.(int); ok {
			f.pattern = code
		}
	}

	for e := src.next; e != nil; e = e.next {
		switch e.factory {
		case "capsfilter":
			if caps, ok := e.caps(); ok {
				if w, h, ok := parseSize(caps); ok {
					f.width, f.height = w, h
				}
			}
		case "jpegenc":
			if err := f.encodeJPEG(); err != nil {
				return fmt.Errorf("%s: %w", e.name, err)
			}
		case "appsink":
			f.render()
			p.produced.Add(1)
			if e.onSample != nil {
				out := make([]byte, len(f.data))
				copy(out, f.data)
				e.onSample(out)
			}
			return nil
		case "fakesink":
			p.produced.Add(1)
			return nil
		}
	}
	return fmt.Errorf("streaming stopped, reason not-linked")
}

// Bus is an unbounded in-order message queue.
type Bus struct {
	mu     sync.Mutex
	queue  []*media.Message
	notify chan struct{}
}

func newBus() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

func (b *Bus) post(msg *media.Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bus) TimedPop(timeout time.Duration) *media.Message {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			msg := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return msg
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-timer.C:
			return nil
		}
	}
}
