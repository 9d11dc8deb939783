// Package eventbus is an in-process pub/sub bus over a closed union of
// pipeline events (feed_updated, signal_update, evaluation_update, alert).
// Delivery is best-effort and unordered across handlers but ordered within
// a handler's own inbox.
package eventbus

import (
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies which event variant a Event carries.
type Kind string

const (
	KindFeedUpdated      Kind = "feed_updated"
	KindSignalUpdate     Kind = "signal_update"
	KindEvaluationUpdate Kind = "evaluation_update"
	KindAlert            Kind = "alert"
)

// FeedUpdated fires when a source's content hash changes across
// re-ingestions (see internal/changedetect).
type FeedUpdated struct {
	Source    string
	URL       string
	ItemCount int
	Items     []FeedItemSummary
}

// FeedItemSummary is the trimmed item shape change-detect events carry.
type FeedItemSummary struct {
	Title   string
	Summary string
}

// SignalUpdate fires whenever the signal computer produces a new value.
type SignalUpdate struct {
	SignalName string
	Value      float64
	Country    string
}

// EvaluationUpdate fires whenever the hypothesis evaluator runs.
type EvaluationUpdate struct {
	HypothesisName string
	Probability    float64
	Country        string
}

// AlertFired fires whenever the alert engine matches a rule.
type AlertFired struct {
	AlertID   string
	RuleID    string
	Severity  string
	Value     float64
	Threshold float64
	Message   string
	Scenario  string
}

// Event is the closed tagged union delivered to subscribers. Exactly one of
// the typed fields is populated, selected by Kind.
type Event struct {
	Kind   Kind
	At     time.Time
	Feed   *FeedUpdated
	Signal *SignalUpdate
	Eval   *EvaluationUpdate
	Alert  *AlertFired
	// Scenario is a denormalized routing hint for stream fan-out: the
	// hypothesis/scenario name a signal_update or evaluation_update belongs
	// to, so internal/stream can filter without switching on Kind.
	Scenario string
}

// Handler processes one event. An error is logged and the handler's
// remaining subscription is unaffected; other handlers still receive the
// event that triggered the error.
type Handler func(Event) error

type subscription struct {
	kind    Kind
	handler Handler
	inbox   chan Event
	done    chan struct{}
}

// Bus is the in-process pub/sub broker. Each subscriber gets its own
// buffered inbox and goroutine, so a slow or failing handler never blocks
// its siblings.
type Bus struct {
	log   zerolog.Logger
	subCh chan subscribeRequest
	pubCh chan Event
	stop  chan struct{}
}

type subscribeRequest struct {
	sub  *subscription
	resp chan struct{}
}

const inboxSize = 64

// New constructs a Bus. Call Start to begin dispatch.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:   log,
		subCh: make(chan subscribeRequest),
		pubCh: make(chan Event, 256),
		stop:  make(chan struct{}),
	}
}

// Start begins the dispatch loop in a background goroutine.
func (b *Bus) Start() {
	go b.run()
}

// Stop halts dispatch. Subscriber goroutines drain their inboxes and exit.
func (b *Bus) Stop() {
	close(b.stop)
}

// Subscribe registers handler for events of kind. Returns an Unsubscribe
// func; calling it is safe even after Stop.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	sub := &subscription{kind: kind, handler: handler, inbox: make(chan Event, inboxSize), done: make(chan struct{})}

	go func() {
		for {
			select {
			case ev, ok := <-sub.inbox:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							b.log.Error().Interface("panic", r).Str("kind", string(kind)).Msg("event handler panicked")
						}
					}()
					if err := sub.handler(ev); err != nil {
						b.log.Error().Err(err).Str("kind", string(kind)).Msg("event handler failed")
					}
				}()
			case <-sub.done:
				return
			case <-b.stop:
				if len(sub.inbox) == 0 {
					return
				}
			}
		}
	}()

	resp := make(chan struct{})
	select {
	case b.subCh <- subscribeRequest{sub: sub, resp: resp}:
		<-resp
	case <-b.stop:
	}

	unsubscribed := false
	return func() {
		if unsubscribed {
			return
		}
		unsubscribed = true
		close(sub.done)
	}
}

// Publish enqueues event for dispatch. Publish never blocks indefinitely on
// a slow subscriber: delivery to each subscriber's inbox is best-effort,
// dropping the event for that subscriber if its inbox is full.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case b.pubCh <- ev:
	case <-b.stop:
	}
}

func (b *Bus) run() {
	var subs []*subscription
	for {
		select {
		case req := <-b.subCh:
			subs = append(subs, req.sub)
			close(req.resp)
		case ev := <-b.pubCh:
			live := subs[:0]
			for _, s := range subs {
				select {
				case <-s.done:
					continue // drop, already unsubscribed
				default:
				}
				if s.kind == ev.Kind {
					select {
					case s.inbox <- ev:
					default:
						b.log.Warn().Str("kind", string(ev.Kind)).Msg("subscriber inbox full, dropping event")
					}
				}
				live = append(live, s)
			}
			subs = live
		case <-b.stop:
			return
		}
	}
}
