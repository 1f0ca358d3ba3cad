// Package replay feeds recorded trace events into an event handler.
//
// A recording is JSON lines, one event per line:
//
//	{"kind":"nfs_initiate_read","pid_tgid":30064771079,"ts_ns":1000}
//	{"kind":"rpc_task_begin","pid_tgid":30064771079,"task_id":42,"ts_ns":1500}
//	{"kind":"rpc_task_end","task_id":42,"ts_ns":9000}
//	{"kind":"nfs_read_done","owner":7,"dev":1048577,"fileid":12,"count":4096,"ts_ns":9500}
//	{"kind":"tcp_rcv","saddr":"10.0.0.1","daddr":"10.0.0.2","sport":2049,"dport":812,"srtt":800}
//
// Blank lines are ignored and unknown kinds are counted and skipped.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

// Event kinds.
const (
	KindInitiateRead  = "nfs_initiate_read"
	KindInitiateWrite = "nfs_initiate_write"
	KindTaskBegin     = "rpc_task_begin"
	KindTaskEnd       = "rpc_task_end"
	KindReadDone      = "nfs_read_done"
	KindWriteDone     = "nfs_write_done"
	KindTCPRcv        = "tcp_rcv"
)

const maxLineSize = 1 << 20

// Record is one line of a recording.
type Record struct {
	Kind string  `json:"kind"`
	TsNs *uint64 `json:"ts_ns,omitempty"`

	PidTgid  uint64 `json:"pid_tgid,omitempty"`
	TaskID   uint64 `json:"task_id,omitempty"`
	ClientID uint32 `json:"client_id,omitempty"`
	Status   int32  `json:"status,omitempty"`

	Owner  uint64 `json:"owner,omitempty"`
	Dev    uint64 `json:"dev,omitempty"`
	FileID uint64 `json:"fileid,omitempty"`
	Count  uint32 `json:"count,omitempty"`
	Error  int32  `json:"error,omitempty"`

	SAddr string `json:"saddr,omitempty"`
	DAddr string `json:"daddr,omitempty"`
	SPort uint16 `json:"sport,omitempty"`
	DPort uint16 `json:"dport,omitempty"`
	SRTT  uint32 `json:"srtt,omitempty"`
}

// Stats summarizes a replay.
type Stats struct {
	Lines   int            `json:"lines"`
	Events  int            `json:"events"`
	Skipped int            `json:"skipped"`
	Unknown map[string]int `json:"unknown,omitempty"`
}

// Options configures a Player.
type Options struct {
	// Clock, when set, is moved to each event's ts_ns before dispatch so
	// latencies follow the recording. It never moves backwards.
	Clock  *clock.Mock
	Logger *utils.StructuredLogger
}

// Player dispatches recorded events to a handler.
type Player struct {
	handler types.EventHandler
	clock   *clock.Mock
	logger  *utils.StructuredLogger
}

// New creates a player for handler.
func New(handler types.EventHandler, opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Player{
		handler: handler,
		clock:   opts.Clock,
		logger:  logger.WithComponent("replay"),
	}
}

// PlayFile replays the recording at path.
func (p *Player) PlayFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()
	return p.Play(ctx, f)
}

// Play replays every event in r. It stops at the first malformed line.
func (p *Player) Play(ctx context.Context, r io.Reader) (Stats, error) {
	stats := Stats{Unknown: make(map[string]int)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return stats, malformed(stats.Lines, "invalid JSON", err)
		}

		known, err := p.Dispatch(rec)
		if err != nil {
			return stats, malformed(stats.Lines, err.Error(), nil)
		}
		if !known {
			stats.Skipped++
			stats.Unknown[rec.Kind]++
			continue
		}
		stats.Events++
	}
	if err := scanner.Err(); err != nil {
		return stats, malformed(stats.Lines+1, "read failed", err)
	}

	p.logger.Debug("Replay finished", map[string]interface{}{
		"lines":   stats.Lines,
		"events":  stats.Events,
		"skipped": stats.Skipped,
	})
	return stats, nil
}

// Dispatch sends one record to the handler. It reports false for kinds it
// does not know.
func (p *Player) Dispatch(rec Record) (bool, error) {
	if rec.Kind == "" {
		return false, fmt.Errorf("missing kind")
	}

	var dispatch func()
	switch rec.Kind {
	case KindInitiateRead, KindInitiateWrite:
		dir := types.DirRead
		if rec.Kind == KindInitiateWrite {
			dir = types.DirWrite
		}
		dispatch = func() {
			p.handler.OnInitiate(types.InitiateEvent{PidTgid: rec.PidTgid, Direction: dir})
		}
	case KindTaskBegin:
		dispatch = func() {
			p.handler.OnTaskBegin(types.TaskBeginEvent{
				PidTgid:  rec.PidTgid,
				TaskID:   types.TaskID(rec.TaskID),
				ClientID: rec.ClientID,
			})
		}
	case KindTaskEnd:
		dispatch = func() {
			p.handler.OnTaskEnd(types.TaskEndEvent{
				TaskID:   types.TaskID(rec.TaskID),
				ClientID: rec.ClientID,
				Status:   rec.Status,
			})
		}
	case KindReadDone, KindWriteDone:
		dir := types.DirRead
		if rec.Kind == KindWriteDone {
			dir = types.DirWrite
		}
		owner := types.CallerID(rec.Owner)
		if owner == 0 && rec.PidTgid != 0 {
			owner = types.CallerFromPidTgid(rec.PidTgid)
		}
		dispatch = func() {
			p.handler.OnCompletion(types.CompletionEvent{
				Owner:     owner,
				Direction: dir,
				Dev:       rec.Dev,
				FileID:    rec.FileID,
				Count:     rec.Count,
				Error:     rec.Error,
			})
		}
	case KindTCPRcv:
		saddr, err := types.ParseIPv4(rec.SAddr)
		if err != nil {
			return false, fmt.Errorf("saddr: %w", err)
		}
		daddr, err := types.ParseIPv4(rec.DAddr)
		if err != nil {
			return false, fmt.Errorf("daddr: %w", err)
		}
		dispatch = func() {
			p.handler.OnRTT(types.RTTEvent{
				SAddr: saddr,
				DAddr: daddr,
				SPort: rec.SPort,
				DPort: rec.DPort,
				SRTT:  rec.SRTT,
			})
		}
	default:
		return false, nil
	}

	if rec.TsNs != nil && *rec.TsNs > math.MaxInt64 {
		return false, fmt.Errorf("ts_ns %d out of range", *rec.TsNs)
	}
	p.advance(rec.TsNs)
	dispatch()
	return true, nil
}

func (p *Player) advance(tsNs *uint64) {
	if p.clock == nil || tsNs == nil {
		return
	}
	t := time.Unix(0, int64(*tsNs))
	if t.After(p.clock.Now()) {
		p.clock.Set(t)
	}
}

func malformed(line int, msg string, cause error) error {
	err := errors.NewError(errors.ErrCodeMalformedEvent, fmt.Sprintf("line %d: %s", line, msg)).
		WithComponent("replay").
		WithDetail("line", line)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
