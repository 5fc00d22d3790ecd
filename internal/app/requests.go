package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/util"
)

const maxTailLineBytes = 16 << 20

func runRequests(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: hookbin requests [tail|prune|delete] [flags]")
		return 1
	}
	switch args[0] {
	case "tail":
		return runRequestsTail(args[1:])
	case "prune":
		return runRequestsPrune(args[1:])
	case "delete":
		return runRequestsDelete(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown requests command: %s\n", args[0])
		return 1
	}
}

func runRequestsTail(args []string) int {
	fs := flag.NewFlagSet("requests tail", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	endpoint := fs.String("endpoint", "", "only show requests for this endpoint")
	limit := fs.Int("limit", 20, "number of recent requests to print")
	follow := fs.Bool("follow", false, "keep printing as new requests and forwards arrive")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	requests, err := openRequests(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open request log: %v\n", err)
		return 1
	}
	recent, err := requests.ListRequests(context.Background(), *endpoint, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed reading requests: %v\n", err)
		return 1
	}
	for i := len(recent) - 1; i >= 0; i-- {
		printRequestLine(recent[i])
	}

	if !*follow {
		return 0
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return followLogs(ctx, cfg, *endpoint, time.Second)
}

func runRequestsPrune(args []string) int {
	fs := flag.NewFlagSet("requests prune", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	olderThan := fs.String("older-than", config.DefaultRetention, "remove requests older than this duration")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	dur, err := parseSince(*olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --older-than: %v\n", err)
		return 1
	}
	if dur <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be > 0")
		return 1
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	requests, err := openRequests(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open request log: %v\n", err)
		return 1
	}
	kept, removed, err := requests.PruneOlderThan(time.Now().Add(-dur))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed pruning requests: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "requests prune: removed=%d kept=%d\n", removed, kept)
	return 0
}

func runRequestsDelete(args []string) int {
	fs := flag.NewFlagSet("requests delete", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	endpoint := fs.String("endpoint", "", "endpoint ID (required)")
	request := fs.String("request", "", "request ID to delete")
	all := fs.Bool("all", false, "delete every request of the endpoint")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *endpoint == "" || (*request == "") == !*all {
		fmt.Fprintln(os.Stderr, "usage: hookbin requests delete --endpoint ID (--request RID | --all)")
		return 1
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	requests, err := openRequests(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open request log: %v\n", err)
		return 1
	}
	ctx := context.Background()
	if *all {
		n, err := requests.DeleteRequests(ctx, *endpoint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed deleting requests: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "requests delete: removed=%d\n", n)
		return 0
	}
	if err := requests.DeleteRequest(ctx, *endpoint, *request); err != nil {
		fmt.Fprintf(os.Stderr, "failed deleting request: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "request %s deleted\n", *request)
	return 0
}

// logFollower tails one JSONL file from a byte offset.
type logFollower struct {
	path   string
	offset int64
}

func newLogFollower(path string) *logFollower {
	f := &logFollower{path: path}
	if st, err := os.Stat(path); err == nil {
		f.offset = st.Size()
	}
	return f
}

// poll calls emit for each complete line appended since the last call.
func (f *logFollower) poll(emit func([]byte)) error {
	st, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if st.Size() < f.offset {
		// Rewritten by a prune or delete; start over.
		f.offset = 0
	}
	if st.Size() == f.offset {
		return nil
	}
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// A partial trailing line is picked up on the next poll.
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		f.offset += int64(len(line))
		if len(line) > maxTailLineBytes {
			continue
		}
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			emit([]byte(trimmed))
		}
	}
}

func followLogs(ctx context.Context, cfg config.Config, endpoint string, every time.Duration) int {
	requests := newLogFollower(util.RequestsPath(cfg.DataDir))
	forwards := newLogFollower(util.ForwardsPath(cfg.DataDir))

	for {
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(every):
			err := requests.poll(func(line []byte) {
				var r model.StoredRequest
				if json.Unmarshal(line, &r) != nil {
					return
				}
				if endpoint == "" || r.EndpointID == endpoint {
					printRequestLine(r)
				}
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "tail error: %v\n", err)
			}
			err = forwards.poll(func(line []byte) {
				var rec model.ForwardRecord
				if json.Unmarshal(line, &rec) != nil {
					return
				}
				if endpoint == "" || rec.EndpointID == endpoint {
					printForwardLine(rec)
				}
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "tail error: %v\n", err)
			}
		}
	}
}
