package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/samirkhoja/hookbin/internal/model"
)

type reportSummary struct {
	Total      int
	Truncated  int
	Endpoints  map[string]int
	Methods    map[string]int
	ForwardOK  int
	ForwardBad int
	States     map[string]int
}

func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	since := fs.String("since", "24h", "lookback duration (e.g. 1h, 24h, 7d)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dur, err := parseSince(*since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --since: %v\n", err)
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
	reqs, err := requests.AllRequests(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed reading requests: %v\n", err)
		return 1
	}
	fwds, err := requests.AllForwards(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed reading forwards: %v\n", err)
		return 1
	}

	cutoff := time.Time{}
	if dur > 0 {
		cutoff = time.Now().Add(-dur)
	}
	sum := summarize(reqs, fwds, cutoff)

	fmt.Fprintln(out, "report:")
	fmt.Fprintf(out, "  window: %s\n", dur)
	fmt.Fprintf(out, "  requests: %d\n", sum.Total)
	fmt.Fprintf(out, "  truncated bodies: %d\n", sum.Truncated)
	fmt.Fprintf(out, "  forwards ok: %d\n", sum.ForwardOK)
	fmt.Fprintf(out, "  forwards failed: %d\n", sum.ForwardBad)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "endpoints:")
	printSortedMap(sum.Endpoints)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "methods:")
	printSortedMap(sum.Methods)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "forward states:")
	printSortedMap(sum.States)
	return 0
}

// summarize counts requests received and forwards finished at or after cutoff.
func summarize(reqs []model.StoredRequest, fwds []model.ForwardRecord, cutoff time.Time) reportSummary {
	sum := reportSummary{
		Endpoints: map[string]int{},
		Methods:   map[string]int{},
		States:    map[string]int{},
	}
	for _, r := range reqs {
		if r.ReceivedAt.Before(cutoff) {
			continue
		}
		sum.Total++
		sum.Endpoints[r.EndpointID]++
		sum.Methods[string(r.Method)]++
		if r.BodyTruncated {
			sum.Truncated++
		}
	}
	for _, f := range fwds {
		if f.FinishedAt.Before(cutoff) {
			continue
		}
		if f.OK {
			sum.ForwardOK++
		} else {
			sum.ForwardBad++
		}
		sum.States[string(f.State)]++
	}
	return sum
}

func printSortedMap(m map[string]int) {
	if len(m) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	type kv struct {
		k string
		v int
	}
	pairs := make([]kv, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, kv{k: k, v: v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].v == pairs[j].v {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v > pairs[j].v
	})
	for _, p := range pairs {
		fmt.Fprintf(out, "  %s: %d\n", p.k, p.v)
	}
}
