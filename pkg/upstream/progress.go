package upstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Progress update kinds forwarded to turn callbacks.
const (
	ProgressDelta      = "delta"
	ProgressAgentRound = "agent_round"
	ProgressAnnotation = "annotation"
	ProgressReference  = "reference"
	ProgressDone       = "done"
)

// ProgressFunc observes streamed turn progress.
type ProgressFunc func(kind string, payload any)

// AgentRound is one agent-mode round: a tool call description and the
// model's textual reply for that round. The payload shape varies across
// server versions, so it stays a raw map with typed accessors.
type AgentRound map[string]any

// Reply returns the round's reply text, if any.
func (r AgentRound) Reply() string {
	s, _ := r["reply"].(string)
	return s
}

// Reference is a file the agent consulted during a round.
type Reference struct {
	Status string `json:"status"`
	URI    string `json:"uri"`
}

// progressUpdate is one decoded $/progress value.
type progressUpdate struct {
	Kind            string            `json:"kind"`
	Reply           string            `json:"reply"`
	Delta           string            `json:"delta"`
	Message         string            `json:"message"`
	EditAgentRounds []AgentRound      `json:"editAgentRounds"`
	Annotations     []json.RawMessage `json:"annotations"`
	References      []Reference       `json:"references"`
}

// inactivityTimeout aborts a turn when the server goes quiet entirely.
const inactivityTimeout = 60 * time.Second

// replyCollection is the aggregated outcome of one turn's progress stream.
type replyCollection struct {
	Text        string
	AgentRounds []AgentRound
}

// collectReply drains one token's progress channel until the terminal end
// record, the total timeout, or the inactivity timeout. The transport's
// Done channel aborts the wait when the child dies mid-stream.
func (c *Client) collectReply(ch <-chan progressUpdate, total time.Duration, onProgress ProgressFunc) (replyCollection, error) {
	var parts []string
	var rounds []AgentRound

	emit := func(kind string, payload any) {
		if onProgress != nil {
			onProgress(kind, payload)
		}
	}
	appendText := func(text string) {
		if text == "" {
			return
		}
		parts = append(parts, text)
		emit(ProgressDelta, text)
	}

	totalTimer := time.NewTimer(total)
	defer totalTimer.Stop()
	idleTimer := time.NewTimer(inactivityTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case update := <-ch:
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(inactivityTimeout)

			if update.Kind == "end" {
				result := replyCollection{Text: strings.Join(parts, ""), AgentRounds: rounds}
				emit(ProgressDone, result.Text)
				return result, nil
			}
			appendText(update.Reply)
			appendText(update.Delta)
			if update.Kind != "begin" {
				appendText(update.Message)
			}
			for _, round := range update.EditAgentRounds {
				rounds = append(rounds, round)
				if reply := round.Reply(); reply != "" {
					parts = append(parts, reply)
				}
				emit(ProgressAgentRound, round)
			}
			for _, ann := range update.Annotations {
				emit(ProgressAnnotation, ann)
			}
			for _, ref := range update.References {
				emit(ProgressReference, ref)
			}

		case <-idleTimer.C:
			return replyCollection{}, fmt.Errorf(
				"no streamed activity for %s; check network and proxy settings", inactivityTimeout)

		case <-totalTimer.C:
			return replyCollection{}, fmt.Errorf(
				"turn timed out after %s; check network and proxy settings", total)

		case <-c.tr.Done():
			return replyCollection{}, c.tr.Err()
		}
	}
}

// registerToken installs a progress channel for a workDoneToken before the
// turn request is sent so no update can be lost.
func (c *Client) registerToken(token string) <-chan progressUpdate {
	ch := make(chan progressUpdate, 256)
	c.progressMu.Lock()
	c.progress[token] = ch
	c.progressMu.Unlock()
	return ch
}

func (c *Client) unregisterToken(token string) {
	c.progressMu.Lock()
	delete(c.progress, token)
	c.progressMu.Unlock()
}

// routeProgress delivers one decoded $/progress notification. Updates for
// unknown tokens are dropped; a full channel drops the update rather than
// blocking the reader goroutine.
func (c *Client) routeProgress(token string, update progressUpdate) {
	c.progressMu.Lock()
	ch, ok := c.progress[token]
	c.progressMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- update:
	default:
		c.logger.Warn("Progress channel full, dropping update", "token", token)
	}
}
