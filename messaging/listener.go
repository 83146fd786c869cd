// Copyright 2026 The Whysper Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MessageSink receives message events from a Listener's poller. It is
// invoked from the poller goroutine, one event at a time, never
// concurrently with itself for the same room subscription. A sink
// must be safe to call from a goroutine other than its creator's.
type MessageSink func(MessageEvent)

// ChannelSink adapts a channel into a MessageSink. The poller blocks
// on a full channel, which in turn delays cursor advancement — size
// the channel for the consumer's drain rate.
func ChannelSink(events chan<- MessageEvent) MessageSink {
	return func(event MessageEvent) {
		events <- event
	}
}

// defaultPollTimeoutMS is the server-side long-poll hold in
// milliseconds. The server returns immediately when new events
// arrive; 30 seconds matches the Matrix client-server spec
// recommendation.
const defaultPollTimeoutMS = 30000

// defaultRetryBackoff is the fixed wait between poll attempts after a
// failure. Retries continue indefinitely — a chat client favors
// eventual delivery over surfacing transient errors.
const defaultRetryBackoff = 5 * time.Second

// defaultTimelineLimit caps timeline events per room per poll
// response, bounding payload size and memory.
const defaultTimelineLimit = 10

// Listener is the sync engine: it runs one poller goroutine per
// watched room, each long-polling /sync with its own cursor and
// delivering new room-message events to that room's sink.
//
// A poller's cursor starts absent ("from now") and advances
// unconditionally on every successful poll — even an empty one — so
// the same window is never re-fetched. On a failed poll the cursor
// holds its position and the poller retries after a fixed backoff, so
// no event is skipped. An event is therefore delivered at most once
// per cursor advancement; backward pagination through
// Session.Messages may legitimately re-surface events already seen
// live.
//
// Listener methods are safe for concurrent use.
type Listener struct {
	session *Session
	logger  *slog.Logger

	pollTimeoutMS int
	retryBackoff  time.Duration
	timelineLimit int

	mu      sync.Mutex
	pollers map[string]*poller
}

// poller is one room subscription's concurrent unit of work.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a Listener over an authenticated session,
// tuned by the client's sync configuration where set.
func NewListener(session *Session) *Listener {
	listener := &Listener{
		session:       session,
		logger:        session.client.logger,
		pollTimeoutMS: defaultPollTimeoutMS,
		retryBackoff:  defaultRetryBackoff,
		timelineLimit: defaultTimelineLimit,
		pollers:       make(map[string]*poller),
	}

	tuning := session.client.syncConfig
	if tuning.PollTimeoutMS > 0 {
		listener.pollTimeoutMS = tuning.PollTimeoutMS
	}
	if tuning.RetryBackoffSeconds > 0 {
		listener.retryBackoff = tuning.RetryBackoff()
	}
	if tuning.TimelineLimit > 0 {
		listener.timelineLimit = tuning.TimelineLimit
	}
	return listener
}

// Start begins polling for new messages in roomID, delivering them to
// sink. The caller should already have joined the room.
//
// If a poller is already running for the same room, it is stopped and
// fully drained before the new one starts (last-writer-wins) — two
// pollers for one room would double-deliver events and race on the
// cursor.
func (l *Listener) Start(roomID string, sink MessageSink) error {
	if roomID == "" {
		return fmt.Errorf("messaging: listener requires a room ID")
	}
	if sink == nil {
		return fmt.Errorf("messaging: listener requires a sink")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if previous, ok := l.pollers[roomID]; ok {
		delete(l.pollers, roomID)
		previous.cancel()
		<-previous.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.pollers[roomID] = p

	go l.poll(ctx, roomID, sink, p.done)
	return nil
}

// Stop halts the poller for roomID, aborting its in-flight long poll,
// and returns once its goroutine has exited. Stopping a room with no
// active poller is a no-op.
func (l *Listener) Stop(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pollers[roomID]
	if !ok {
		return
	}
	delete(l.pollers, roomID)
	p.cancel()
	<-p.done
}

// Close stops every active poller and waits for all of them to exit.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for roomID, p := range l.pollers {
		delete(l.pollers, roomID)
		p.cancel()
		<-p.done
	}
}

// poll is the poller goroutine's loop. It owns the sync cursor for
// this subscription; nothing else reads or writes it.
func (l *Listener) poll(ctx context.Context, roomID string, sink MessageSink, done chan struct{}) {
	defer close(done)

	// Empty cursor on the first cycle means "start from now": the
	// server assigns a position and historical events are not
	// replayed.
	cursor := ""
	filter := l.inlineFilter(roomID)

	for {
		response, err := l.session.Sync(ctx, SyncOptions{
			Since:      cursor,
			SetTimeout: true,
			Timeout:    l.pollTimeoutMS,
			Filter:     filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transport failures and undecodable payloads are handled
			// identically: hold the cursor so the next successful poll
			// resumes from the same position with no gap.
			l.logger.Warn("sync poll failed, backing off",
				"room_id", roomID,
				"backoff", l.retryBackoff,
				"error", err,
			)
			// TCP-level errors often indicate a poisoned connection in
			// the HTTP pool; drop idle connections so the retry opens
			// a fresh socket.
			l.session.CloseIdleConnections()

			select {
			case <-ctx.Done():
				return
			case <-time.After(l.retryBackoff):
			}
			continue
		}

		// Advance unconditionally, even on an empty response — this is
		// what makes the poll "long" rather than re-fetching the same
		// window.
		cursor = response.NextBatch

		l.deliver(response, sink)

		if ctx.Err() != nil {
			return
		}
	}
}

// deliver hands every room-message event in the response to the sink,
// preserving each room's timeline order. Map decoding loses the
// server's room ordering, so rooms are visited in sorted order for
// deterministic interleaving.
func (l *Listener) deliver(response *SyncResponse, sink MessageSink) {
	if len(response.Rooms.Join) == 0 {
		return
	}

	roomIDs := make([]string, 0, len(response.Rooms.Join))
	for roomID := range response.Rooms.Join {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)

	receivedAt := time.Now()
	for _, roomID := range roomIDs {
		for _, event := range response.Rooms.Join[roomID].Timeline.Events {
			if event.Type != "m.room.message" {
				continue
			}
			sink(newMessageEvent(roomID, event, receivedAt))
		}
	}
}

// inlineFilter builds the /sync filter for one room subscription: the
// watched room only, timeline capped, presence and account data
// suppressed.
func (l *Listener) inlineFilter(roomID string) string {
	filter := map[string]any{
		"room": map[string]any{
			"rooms": []string{roomID},
			"timeline": map[string]any{
				"limit": l.timelineLimit,
			},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	encoded, _ := json.Marshal(filter)
	return string(encoded)
}
