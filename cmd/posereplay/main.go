// Command posereplay runs a recorded landmark stream through a coaching
// session offline and prints the per-frame results and the final summary as
// JSON lines.
//
// Input is one JSON object per line:
//
//	{"timestamp_ms": 1700000000000, "landmarks": [{"x":0.5,"y":0.2,"z":0,"visibility":0.99}, ...]}
//
// Usage:
//
//	posereplay -exercise squats_gentle recording.jsonl
//	cat recording.jsonl | posereplay -exercise cat_cow -summary-only
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/posecoach/internal/config"
	"github.com/MrWong99/posecoach/internal/session"
	"github.com/MrWong99/posecoach/internal/voice"
	"github.com/MrWong99/posecoach/pkg/pose"
	"github.com/MrWong99/posecoach/pkg/posture"
)

// frameStep spaces frames that carry no timestamp, matching a 30 fps camera.
const frameStep = 33 * time.Millisecond

// maxLineSize bounds a single recorded frame.
const maxLineSize = 1 << 20

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options are the parsed command-line flags.
type options struct {
	exercise    string
	hysteresis  float64
	cooldown    time.Duration
	summaryOnly bool
	input       string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("posereplay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.exercise, "exercise", "", "exercise id; unknown ids are scored neutrally")
	fs.Float64Var(&o.hysteresis, "hysteresis", 0, "rep-counter hysteresis band in degrees")
	fs.DurationVar(&o.cooldown, "cooldown", voice.DefaultCooldown, "minimum gap before a cue is repeated")
	fs.BoolVar(&o.summaryOnly, "summary-only", false, "print only the session summary")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		o.input = fs.Arg(0)
	default:
		return o, errors.New("at most one input file may be given")
	}
	return o, nil
}

// recordedFrame is one line of the input.
type recordedFrame struct {
	TimestampMS int64      `json:"timestamp_ms"`
	Landmarks   pose.Frame `json:"landmarks"`
}

// frameLine is one line of per-frame output.
type frameLine struct {
	Line        int   `json:"line"`
	TimestampMS int64 `json:"timestamp_ms"`
	session.FrameResult
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "posereplay: %v\n", err)
		return 2
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	in := stdin
	if o.input != "" && o.input != "-" {
		f, err := os.Open(o.input)
		if err != nil {
			fmt.Fprintf(stderr, "posereplay: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	profile := posture.DefaultCatalog().Resolve(o.exercise)
	if o.exercise != "" && profile.Exercise == posture.ExerciseUnknown {
		msg := fmt.Sprintf("unknown exercise %q, scoring neutrally", o.exercise)
		if s := config.Suggest(o.exercise, posture.IDs()); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		slog.Warn(msg)
	}

	n, err := replay(context.Background(), in, stdout, profile, o)
	if err != nil {
		fmt.Fprintf(stderr, "posereplay: %v\n", err)
		return 1
	}
	if n == 0 {
		fmt.Fprintln(stderr, "posereplay: no frames in input")
		return 1
	}
	return 0
}

// replay feeds every decodable line of in through one session and writes
// the results to out. Malformed lines are logged and skipped. It returns the
// number of frames processed.
func replay(ctx context.Context, in io.Reader, out io.Writer, p posture.Profile, o options) (int, error) {
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	var (
		s      *session.Session
		last   time.Time
		frames int
		line   int
	)
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec recordedFrame
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			slog.Warn("skipping malformed frame", "line", line, "err", err)
			continue
		}

		now := last.Add(frameStep)
		if rec.TimestampMS > 0 {
			now = time.UnixMilli(rec.TimestampMS)
		}
		if s == nil {
			s = session.New(session.Config{
				Profile:    p,
				Throttle:   voice.Throttle{Cooldown: o.cooldown},
				Hysteresis: o.hysteresis,
			}, now)
		}
		last = now

		res := s.Process(ctx, rec.Landmarks, now)
		frames++
		if o.summaryOnly {
			continue
		}
		if err := enc.Encode(frameLine{Line: line, TimestampMS: now.UnixMilli(), FrameResult: res}); err != nil {
			return frames, err
		}
	}
	if err := sc.Err(); err != nil {
		return frames, fmt.Errorf("read input: %w", err)
	}
	if s == nil {
		return 0, nil
	}
	return frames, enc.Encode(s.Summary(last))
}
