package inputs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hostcollector/agent/pkg/event"
	"github.com/hostcollector/agent/pkg/plugin"
)

// ProcMonitorTypeName is this Input's catalog registration name.
const ProcMonitorTypeName = "host_process_monitor"

// ProcMonitorConfig is the raw options block for the host process monitor
// Input. An empty PIDs list means "monitor this agent's own process".
type ProcMonitorConfig struct {
	PIDs     []int         `mapstructure:"PIDs"`
	Interval time.Duration `mapstructure:"Interval"`
	ProcRoot string        `mapstructure:"ProcRoot"`
}

// procStat is the subset of /proc/<pid>/stat fields this monitor reports,
// named per the canonical `man proc` field order. Field numbers in
// comments are 1-indexed as in that man page.
type procStat struct {
	PID         int     // 1
	Comm        string  // 2, bracketed, may contain spaces
	State       string  // 3
	UTimeTicks  uint64  // 14
	STimeTicks  uint64  // 15
	NumThreads  int64   // 20
	StartTicks  uint64  // 22
	Processor   int     // 39 (1-indexed field 39, i.e. index 36 of the fields after comm)
}

var bootTimeOnce sync.Once
var bootTimeSec int64

// ProcMonitorInput reads /proc/<pid>/stat for each configured PID on a
// shared timer and emits one Metric Event per tracked field.
type ProcMonitorInput struct {
	meta   plugin.Meta
	logger log.Logger
	cfg    ProcMonitorConfig

	backoff plugin.Backoff
	cancel  context.CancelFunc
}

// NewProcMonitorInput is the registry Factory for ProcMonitorTypeName.
func NewProcMonitorInput(logger log.Logger) plugin.Factory {
	return func(meta plugin.Meta) (any, error) {
		return &ProcMonitorInput{
			meta:    meta,
			logger:  log.With(logger, "plugin", meta.ID),
			backoff: plugin.DefaultBackoff,
		}, nil
	}
}

// Init decodes cfg, defaulting ProcRoot to /proc and PIDs to this
// process's own PID when empty.
func (in *ProcMonitorInput) Init(cfg map[string]any) error {
	decoded := ProcMonitorConfig{Interval: 10 * time.Second, ProcRoot: "/proc"}
	if err := plugin.DecodeConfig(ProcMonitorTypeName, cfg, &decoded); err != nil {
		return err
	}
	if decoded.Interval <= 0 {
		return &plugin.ConfigError{TypeName: ProcMonitorTypeName, Field: "Interval", Err: fmt.Errorf("must be positive")}
	}
	if len(decoded.PIDs) == 0 {
		decoded.PIDs = []int{os.Getpid()}
	}
	in.cfg = decoded
	return nil
}

// Start launches the shared sampling-loop goroutine.
func (in *ProcMonitorInput) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	go in.run(ctx)
	return nil
}

// Stop cancels the sampling loop. Idempotent.
func (in *ProcMonitorInput) Stop() error {
	if in.cancel != nil {
		in.cancel()
	}
	return nil
}

func (in *ProcMonitorInput) run(ctx context.Context) {
	ticker := time.NewTicker(in.cfg.Interval)
	defer ticker.Stop()

	for {
		in.sample(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (in *ProcMonitorInput) sample(ctx context.Context) {
	boot, err := bootTime(in.cfg.ProcRoot)
	if err != nil {
		level.Warn(in.logger).Log("msg", "read boot time failed", "err", err)
	}

	group := event.NewGroup(128, event.Provenance{
		ConfigName: in.meta.ConfigName,
		AcquiredAt: time.Now(),
	})

	for _, pid := range in.cfg.PIDs {
		stat, err := readProcStat(in.cfg.ProcRoot, pid)
		if err != nil {
			level.Debug(in.logger).Log("msg", "read proc stat failed", "pid", pid, "err", err)
			continue
		}
		appendProcStat(group, stat, boot)
	}

	if group.Len() == 0 {
		return
	}
	in.pushWithBackoff(ctx, group)
}

func appendProcStat(group *event.Group, s procStat, bootSec int64) {
	now := time.Now()
	pidTag := group.PutString(strconv.Itoa(s.PID))
	commTag := group.PutString(s.Comm)
	baseTags := []event.Tag{
		{Key: group.PutString("pid"), Value: pidTag},
		{Key: group.PutString("comm"), Value: commTag},
		{Key: group.PutString("state"), Value: group.PutString(s.State)},
	}

	add := func(metric string, value float64) {
		tags := append([]event.Tag(nil), baseTags...)
		group.AddEvent(event.NewMetricEvent(now.Unix(), int32(now.Nanosecond()), group.PutString(metric), value, tags))
	}

	add("proc_utime_ticks", float64(s.UTimeTicks))
	add("proc_stime_ticks", float64(s.STimeTicks))
	add("proc_num_threads", float64(s.NumThreads))
	add("proc_current_processor", float64(s.Processor))
	if bootSec > 0 {
		add("proc_start_unix_ticks", float64(s.StartTicks))
	}
}

// readProcStat parses procRoot/<pid>/stat. The comm field is bracketed and
// may itself contain spaces or closing parens before the final one, so
// the line is split at the last ')' before whitespace-splitting the
// remaining fields, per the original_source process entity collector's
// tolerance for this. At least 37 fields must follow comm (fields 3
// through 39 overall, the last being `processor`).
func readProcStat(procRoot string, pid int) (procStat, error) {
	path := fmt.Sprintf("%s/%d/stat", procRoot, pid)
	f, err := os.Open(path)
	if err != nil {
		return procStat{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return procStat{}, err
		}
		return procStat{}, fmt.Errorf("proc monitor: empty stat file %s", path)
	}
	line := scanner.Text()

	openParen := strings.IndexByte(line, '(')
	closeParen := strings.LastIndexByte(line, ')')
	if openParen < 0 || closeParen < 0 || closeParen < openParen {
		return procStat{}, fmt.Errorf("proc monitor: malformed stat line %q", line)
	}

	pidField := strings.TrimSpace(line[:openParen])
	comm := line[openParen+1 : closeParen]
	rest := strings.Fields(line[closeParen+1:])

	// rest[0] is state (field 3); fields after comm are 1-indexed from
	// state=3 onward, so rest index i holds field (3+i): utime is field
	// 14 -> rest[11]; stime is field 15 -> rest[12]; num_threads is field
	// 20 -> rest[17]; starttime is field 22 -> rest[19]; processor is
	// field 39 -> rest[36].
	const minFields = 37 // through field 39 inclusive (3 + 36)
	if len(rest) < minFields {
		return procStat{}, fmt.Errorf("proc monitor: stat line has %d fields after comm, want >= %d", len(rest), minFields)
	}

	pidN, err := strconv.Atoi(pidField)
	if err != nil {
		return procStat{}, fmt.Errorf("proc monitor: bad pid field %q: %w", pidField, err)
	}

	s := procStat{PID: pidN, Comm: comm, State: rest[0]}
	s.UTimeTicks, _ = strconv.ParseUint(rest[11], 10, 64)
	s.STimeTicks, _ = strconv.ParseUint(rest[12], 10, 64)
	threads, _ := strconv.ParseInt(rest[17], 10, 64)
	s.NumThreads = threads
	s.StartTicks, _ = strconv.ParseUint(rest[19], 10, 64)
	processor, _ := strconv.Atoi(rest[36])
	s.Processor = processor

	return s, nil
}

// bootTime reads and memoizes /proc/stat's btime line process-wide, since
// it cannot change for the lifetime of the host.
func bootTime(procRoot string) (int64, error) {
	var readErr error
	bootTimeOnce.Do(func() {
		f, err := os.Open(procRoot + "/stat")
		if err != nil {
			readErr = err
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "btime ") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			v, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				readErr = err
				return
			}
			bootTimeSec = v
			return
		}
		readErr = fmt.Errorf("proc monitor: no btime line in %s/stat", procRoot)
	})
	return bootTimeSec, readErr
}

func (in *ProcMonitorInput) pushWithBackoff(ctx context.Context, group *event.Group) {
	attempt := 0
	for {
		err := in.meta.Push(group)
		if err == nil {
			return
		}
		attempt++
		delay := in.backoff.Delay(attempt)
		level.Debug(in.logger).Log("msg", "process queue full, backing off", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
