// Command dagvc works with topology snapshot files offline: hashing,
// validation, diffing, applying diffs, start ordering, cycle and impact
// analysis, envelope packing and API token issuing.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/algorithms"
	"github.com/dd0wney/cluso-dagvc/pkg/auth"
	"github.com/dd0wney/cluso-dagvc/pkg/codec"
	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
)

// Exit codes.
const (
	exitOK      = 0
	exitInvalid = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage")

type command struct {
	name    string
	summary string
	run     func(args []string, stdout io.Writer) (int, error)
}

func commands() []command {
	return []command{
		{"hash", "print the content hash of a snapshot", runHash},
		{"validate", "validate a snapshot (exit 1 when invalid)", runValidate},
		{"diff", "compute the diff between two snapshots", runDiff},
		{"apply", "apply a diff to a snapshot", runApply},
		{"order", "print the dependency-first start order", runOrder},
		{"cycles", "list dependency cycles and cyclic components", runCycles},
		{"impact", "[-up] [-both] [-depth n] <file> <node>: list nodes affected by a node", runImpact},
		{"pack", "convert a snapshot, bundle or diff file to another format", runPack},
		{"token", "issue an API bearer token", runToken},
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stderr)
		return exitUsage
	}
	for _, c := range commands() {
		if c.name != args[0] {
			continue
		}
		code, err := c.run(args[1:], stdout)
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "usage: dagvc %s\n", c.summary)
			return exitUsage
		}
		if err != nil {
			fmt.Fprintf(stderr, "dagvc %s: %v\n", c.name, err)
			if code == exitOK {
				code = exitInvalid
			}
		}
		return code
	}
	fmt.Fprintf(stderr, "dagvc: unknown command %q\n", args[0])
	usage(stderr)
	return exitUsage
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: dagvc <command> [flags] [files]")
	fmt.Fprintln(w)
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// output writes v to path (format from the extension) or as indented JSON
// to stdout.
func output(stdout io.Writer, path string, v any) error {
	if path != "" {
		return codec.WriteFile(path, v)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHash(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("hash")
	alg := fs.String("alg", string(hasher.SHA256), "hash algorithm (sha256, blake2b-256)")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 1 {
		return exitUsage, errUsage
	}
	h, err := hasher.New(hasher.Algorithm(*alg))
	if err != nil {
		return exitUsage, err
	}
	snap, err := codec.ReadSnapshotFile(fs.Arg(0))
	if err != nil {
		return exitInvalid, err
	}
	sum, err := h.HashSnapshot(snap)
	if err != nil {
		return exitInvalid, err
	}
	fmt.Fprintln(stdout, sum)
	return exitOK, nil
}

func runValidate(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("validate")
	rules := fs.String("rules", "", "comma-separated extra rules: "+ruleNames())
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 1 {
		return exitUsage, errUsage
	}

	var opts []validation.Option
	if *rules != "" {
		var parsed []validation.Rule
		for _, name := range strings.Split(*rules, ",") {
			r, err := validation.ParseRule(name)
			if err != nil {
				return exitUsage, err
			}
			parsed = append(parsed, r)
		}
		opts = append(opts, validation.WithRules(parsed...))
	}

	snap, err := codec.ReadSnapshotFile(fs.Arg(0))
	if err != nil {
		return exitInvalid, err
	}
	result := validation.New(opts...).Validate(snap)

	if *asJSON {
		if err := output(stdout, "", result); err != nil {
			return exitInvalid, err
		}
	} else if result.OK {
		fmt.Fprintf(stdout, "ok: %s version %s (%d nodes, %d edges)\n", snap.ID, snap.Version, len(snap.Nodes), len(snap.Edges))
	} else {
		fmt.Fprintf(stdout, "invalid: %s (%s)\n", result.Reason, result.Type())
	}
	if !result.OK {
		return exitInvalid, nil
	}
	return exitOK, nil
}

func ruleNames() string {
	names := make([]string, 0, len(validation.Rules()))
	for _, r := range validation.Rules() {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}

func runDiff(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("diff")
	out := fs.String("o", "", "write the diff to this file instead of stdout")
	stat := fs.Bool("stat", false, "print change counts only")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 2 {
		return exitUsage, errUsage
	}
	prev, err := codec.ReadSnapshotFile(fs.Arg(0))
	if err != nil {
		return exitInvalid, err
	}
	next, err := codec.ReadSnapshotFile(fs.Arg(1))
	if err != nil {
		return exitInvalid, err
	}

	d := diff.Compute(prev, next)
	if *stat {
		st := d.Stats()
		fmt.Fprintf(stdout, "%d added, %d modified, %d removed\n", st.Added, st.Modified, st.Removed)
		return exitOK, nil
	}
	return exitOK, output(stdout, *out, d)
}

func runApply(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("apply")
	out := fs.String("o", "", "write the result to this file instead of stdout")
	noValidate := fs.Bool("no-validate", false, "skip validation of the result")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 2 {
		return exitUsage, errUsage
	}
	base, err := codec.ReadSnapshotFile(fs.Arg(0))
	if err != nil {
		return exitInvalid, err
	}
	d, err := codec.ReadDiffFile(fs.Arg(1))
	if err != nil {
		return exitInvalid, err
	}

	next, err := diff.Apply(base, d)
	if err != nil {
		return exitInvalid, err
	}
	if !*noValidate {
		if r := validation.New().Validate(next); !r.OK {
			return exitInvalid, fmt.Errorf("result is invalid: %s", r.Reason)
		}
		sum, err := hasher.Default().HashSnapshot(next)
		if err != nil {
			return exitInvalid, err
		}
		next.IntegrityHash = sum
		next.ValidationStatus = graph.ValidationValid
	}
	return exitOK, output(stdout, *out, next)
}

func runOrder(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("order")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 1 {
		return exitUsage, errUsage
	}
	snap, err := codec.ReadSnapshotFile(fs.Arg(0))
	if err != nil {
		return exitInvalid, err
	}
	order, err := algorithms.TopologicalOrder(snap)
	if err != nil {
		return exitInvalid, err
	}
	for i, id := range order {
		fmt.Fprintf(stdout, "%d. %s\n", i+1, id)
	}
	return exitOK, nil
}

func runCycles(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("cycles")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 1 {
		return exitUsage, errUsage
	}
	snap, err := codec.ReadSnapshotFile(fs.Arg(0))
	if err != nil {
		return exitInvalid, err
	}
	cycles := algorithms.DetectCycles(snap)
	if len(cycles) == 0 {
		fmt.Fprintln(stdout, "no cycles")
		return exitOK, nil
	}
	stats := algorithms.AnalyzeCycles(cycles)
	fmt.Fprintf(stdout, "%d cycles (shortest %d, longest %d, self-loops %d)\n",
		stats.TotalCycles, stats.ShortestCycle, stats.LongestCycle, stats.SelfLoops)
	for _, c := range cycles {
		fmt.Fprintf(stdout, "  %s\n", strings.Join(c.Path(), " -> "))
	}
	components := algorithms.CyclicComponents(snap)
	fmt.Fprintf(stdout, "%d cyclic components\n", len(components))
	for _, c := range components {
		fmt.Fprintf(stdout, "  {%s}\n", strings.Join(c.Members, ", "))
	}
	return exitInvalid, nil
}

// runImpact prints the nodes reachable from a node, one hop level per
// line. By default it follows dependents: what breaks if the node does.
func runImpact(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("impact")
	up := fs.Bool("up", false, "follow dependencies instead of dependents")
	both := fs.Bool("both", false, "follow dependencies and dependents")
	depth := fs.Int("depth", 0, "maximum hops (0 = unbounded)")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 2 {
		return exitUsage, errUsage
	}
	snap, err := codec.ReadSnapshotFile(fs.Arg(0))
	if err != nil {
		return exitInvalid, err
	}

	opts := algorithms.ImpactOptions{MaxHops: *depth}
	switch {
	case *both:
		opts.Direction = algorithms.Both
	case *up:
		opts.Direction = algorithms.Upstream
	}
	result, err := algorithms.Impact(snap, fs.Arg(1), opts)
	if err != nil {
		return exitInvalid, err
	}
	fmt.Fprintf(stdout, "%d nodes reachable from %s\n", result.Total, result.Source)
	for hop := 1; hop <= len(result.ByHop); hop++ {
		fmt.Fprintf(stdout, "  %d: %s\n", hop, strings.Join(result.ByHop[hop], ", "))
	}
	return exitOK, nil
}

// runPack re-encodes a file. The payload kind is detected from the input:
// envelopes record it; JSON and YAML are tried as snapshot, bundle and diff.
func runPack(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("pack")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() != 2 {
		return exitUsage, errUsage
	}
	in, out := fs.Arg(0), fs.Arg(1)
	data, err := os.ReadFile(in)
	if err != nil {
		return exitInvalid, err
	}

	v, err := decodeAny(codec.FormatFromPath(in), data)
	if err != nil {
		return exitInvalid, fmt.Errorf("%s: %w", in, err)
	}
	if err := codec.WriteFile(out, v); err != nil {
		return exitInvalid, err
	}
	fmt.Fprintf(stdout, "%s -> %s (%s)\n", in, out, codec.FormatFromPath(out))
	return exitOK, nil
}

func decodeAny(f codec.Format, data []byte) (any, error) {
	if f == codec.FormatEnvelope {
		kind, _, err := codec.Open(data)
		if err != nil {
			return nil, err
		}
		switch kind {
		case codec.KindSnapshot:
			return codec.DecodeSnapshot(f, data)
		case codec.KindBundle:
			return codec.DecodeBundle(f, data)
		case codec.KindDiff:
			return codec.DecodeDiff(f, data)
		}
		return nil, fmt.Errorf("unsupported envelope kind %s", kind)
	}

	var sniff map[string]any
	if err := codec.Unmarshal(f, data, &sniff); err != nil {
		return nil, err
	}
	switch {
	case sniff["agent_statuses"] != nil:
		return codec.DecodeBundle(f, data)
	case sniff["changes"] != nil:
		return codec.DecodeDiff(f, data)
	}
	return codec.DecodeSnapshot(f, data)
}

func runToken(args []string, stdout io.Writer) (int, error) {
	fs := newFlags("token")
	secret := fs.String("secret", os.Getenv("DAGVC_JWT_SECRET"), "signing secret (default $DAGVC_JWT_SECRET)")
	subject := fs.String("subject", "", "token subject")
	role := fs.String("role", auth.RoleViewer, "role: viewer, editor or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if *subject == "" {
		return exitUsage, errUsage
	}
	m, err := auth.NewJWTManager(*secret, *ttl)
	if err != nil {
		return exitUsage, err
	}
	token, err := m.GenerateToken(*subject, *role)
	if err != nil {
		return exitUsage, err
	}
	fmt.Fprintln(stdout, token)
	return exitOK, nil
}
