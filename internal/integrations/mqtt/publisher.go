package mqtt

import (
	"sync"
	"time"

	"faceverify/internal/core/session"
	"faceverify/internal/core/tracker"

	log "github.com/sirupsen/logrus"
)

// Zustände im retained State-Topic
const (
	StateVerified   = "verified"
	StateUnverified = "unverified"
)

const publishQueueSize = 64

// forgetRetention bestimmt, wie lange Ergebnisse entfernter Sessions noch verworfen werden
const forgetRetention = time.Minute

// MessagePublisher wird von Client implementiert
type MessagePublisher interface {
	PublishMessage(topic string, payload interface{}, retain bool) error
}

// ResultMessage ist die JSON-Nutzlast im Result-Topic
type ResultMessage struct {
	SessionID        string        `json:"session_id"`
	Code             string        `json:"code"`
	StableMatch      bool          `json:"stable_match"`
	State            tracker.State `json:"state"`
	ContinuousPasses int           `json:"continuous_passes"`
	Confidence       float64       `json:"confidence"`
	FaceCount        int           `json:"face_count"`
	Error            string        `json:"error,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

type message struct {
	topic   string
	payload interface{}
	retain  bool
}

// Publisher veröffentlicht Frame-Ergebnisse und Wechsel des stabilen Zustands.
// HandleOutcome blockiert nicht; gesendet wird in einer eigenen Goroutine.
type Publisher struct {
	pub    MessagePublisher
	prefix string

	mutex     sync.Mutex
	stable    map[string]bool
	forgotten map[string]time.Time
	closed    bool
	now       func() time.Time

	queue chan message
	done  chan struct{}
}

// NewPublisher startet den Sende-Loop
func NewPublisher(pub MessagePublisher, topicPrefix string) *Publisher {
	p := &Publisher{
		pub:       pub,
		prefix:    topicPrefix,
		stable:    make(map[string]bool),
		forgotten: make(map[string]time.Time),
		now:       time.Now,
		queue:     make(chan message, publishQueueSize),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// StateTopic liefert das retained Topic mit verified/unverified
func (p *Publisher) StateTopic(sessionID string) string {
	return p.prefix + "/" + sessionID + "/state"
}

// ResultTopic liefert das Topic mit dem JSON-Ergebnis jedes Frames
func (p *Publisher) ResultTopic(sessionID string) string {
	return p.prefix + "/" + sessionID + "/result"
}

// HandleOutcome ist ein session.OutcomeListener
func (p *Publisher) HandleOutcome(o session.FrameOutcome) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return
	}
	// Frames, die beim Entfernen der Session noch liefen
	if _, gone := p.forgotten[o.SessionID]; gone {
		return
	}

	if prev, known := p.stable[o.SessionID]; !known || prev != o.StableMatch {
		p.stable[o.SessionID] = o.StableMatch
		state := StateUnverified
		if o.StableMatch {
			state = StateVerified
		}
		p.enqueue(message{topic: p.StateTopic(o.SessionID), payload: state, retain: true})
	}

	result := ResultMessage{
		SessionID:        o.SessionID,
		Code:             o.Code,
		StableMatch:      o.StableMatch,
		State:            o.State,
		ContinuousPasses: o.ContinuousPasses,
		FaceCount:        o.FaceCount,
		Error:            o.Error,
		Timestamp:        o.Timestamp,
	}
	if o.Verification != nil {
		result.Confidence = o.Verification.Confidence
	}
	p.enqueue(message{topic: p.ResultTopic(o.SessionID), payload: result})
}

// Forget löscht den retained Zustand einer entfernten Session
func (p *Publisher) Forget(sessionID string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return
	}
	delete(p.stable, sessionID)

	now := p.now()
	for id, at := range p.forgotten {
		if now.Sub(at) > forgetRetention {
			delete(p.forgotten, id)
		}
	}
	p.forgotten[sessionID] = now

	// eine leere retained Nachricht entfernt den Wert beim Broker
	p.enqueue(message{topic: p.StateTopic(sessionID), payload: []byte{}, retain: true})
}

// Register meldet eine (neu angelegte) Session an. Eine zuvor entfernte
// Session mit derselben ID veröffentlicht danach wieder.
func (p *Publisher) Register(sessionID string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.forgotten, sessionID)
}

// Close sendet alle wartenden Nachrichten und beendet den Sende-Loop
func (p *Publisher) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mutex.Unlock()
	<-p.done
}

// enqueue erwartet, dass p.mutex gehalten wird
func (p *Publisher) enqueue(m message) {
	select {
	case p.queue <- m:
	default:
		log.Warnf("MQTT publish queue full, dropping message for %s", m.topic)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for m := range p.queue {
		if err := p.pub.PublishMessage(m.topic, m.payload, m.retain); err != nil {
			log.Warnf("Failed to publish MQTT message: %v", err)
		}
	}
}
