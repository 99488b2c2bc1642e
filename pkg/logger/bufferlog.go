// Package logger implements a per-jobID in-memory log buffer.
//
// Detail lines are buffered while a job runs. On failure the buffer is
// replayed followed by the final error, so the log tells the whole
// story only when something actually went wrong. On success the buffer
// is dropped and a single short line is printed.
//
// Thread safety comes from a dedicated logger goroutine fed by a
// command channel; no mutexes.
package logger

import (
	"bytes"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	jobID   string
	message string    // for Append
	summary string    // for Success
	err     error     // for FlushError
	when    time.Time // timestamp, kept for ordering if ever needed
}

var ch = make(chan cmd, 128) // buffered to absorb bursts

// Begin starts buffering for jobID.
func Begin(jobID string) { ch <- cmd{act: actBegin, jobID: jobID, when: time.Now()} }

// Append adds one detail line to the buffer.
func Append(jobID, msg string) {
	ch <- cmd{act: actAppend, jobID: jobID, message: msg, when: time.Now()}
}

// Success drops the buffer and prints a single summary line.
func Success(jobID, summary string) {
	ch <- cmd{act: actSuccess, jobID: jobID, summary: summary, when: time.Now()}
}

// FlushError replays the buffered lines followed by the final error.
func FlushError(jobID string, err error) {
	ch <- cmd{act: actFlushErr, jobID: jobID, err: err, when: time.Now()}
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.jobID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.jobID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message) // no buffer, print immediately
			}

		case actSuccess:
			log.Printf("[%-8s] ✔ %s", c.jobID, c.summary)
			delete(buffers, c.jobID)

		case actFlushErr:
			if b := buffers[c.jobID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					log.Print(ln)
				}
				delete(buffers, c.jobID)
			}
			log.Printf("[%-8s][ERROR] %v", c.jobID, c.err)
		}
	}
}
