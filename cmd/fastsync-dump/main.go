// Command fastsync-dump prints the shared state records of a fastsync
// segment, for debugging stuck waits.
//
// Usage:
//
//	fastsync-dump [--dir DIR | --segment PATH] [--kind KIND] INDEX[:KIND]...
//
// Records are printed raw unless a kind is given, either for all indices with
// --kind or per index with a suffix such as 12:mutex.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/spf13/pflag"

	"github.com/joeycumines/go-fastsync"
	"github.com/joeycumines/go-fastsync/server"
	"github.com/joeycumines/go-fastsync/shm"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fastsync.NewLogger(os.Stderr, logiface.LevelError).Err().
				Err(err).
				Log(`fastsync-dump failed`)
		}
		os.Exit(1)
	}
}

type request struct {
	index uint32
	kind  server.ObjectKind
	raw   bool
}

func run(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("fastsync-dump", pflag.ContinueOnError)
	dir := flags.String("dir", shm.DefaultDir, "directory holding the segment, used to derive its name")
	segment := flags.String("segment", "", "segment file path, overriding --dir")
	pageSize := flags.Int("page-size", shm.DefaultPageSize, "segment page size in bytes")
	kind := flags.String("kind", "", "kind of every record (semaphore, mutex, auto-event, manual-event); raw if unset")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("no record indices given")
	}

	defaultKind := request{raw: true}
	if *kind != "" {
		k, err := parseKind(*kind)
		if err != nil {
			return err
		}
		defaultKind = request{kind: k}
	}
	reqs := make([]request, 0, flags.NArg())
	for _, arg := range flags.Args() {
		req, err := parseRequest(arg, defaultKind)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	path := *segment
	if path == "" {
		name, err := shm.Name(*dir)
		if err != nil {
			return err
		}
		path = shm.PathFor(*dir, name)
	}
	seg, err := shm.Open(path, *pageSize)
	if err != nil {
		return err
	}
	defer seg.Close()

	for _, req := range reqs {
		rec, err := seg.Record(req.index)
		if err != nil {
			return fmt.Errorf("record %d: %w", req.index, err)
		}
		if _, err := fmt.Fprintln(stdout, describe(req, rec)); err != nil {
			return err
		}
	}
	return nil
}

func parseKind(s string) (server.ObjectKind, error) {
	k, err := server.ParseObjectKind(s)
	if err != nil {
		return server.KindNone, err
	}
	if !k.HasRecord() {
		return server.KindNone, fmt.Errorf("kind %s has no shared record", k)
	}
	return k, nil
}

func parseRequest(arg string, def request) (request, error) {
	index, kind, ok := strings.Cut(arg, ":")
	n, err := strconv.ParseUint(index, 10, 32)
	if err != nil || n == 0 {
		return request{}, fmt.Errorf("invalid record index %q", index)
	}
	req := def
	req.index = uint32(n)
	if ok {
		if req.kind, err = parseKind(kind); err != nil {
			return request{}, err
		}
		req.raw = false
	}
	return req, nil
}

func describe(req request, rec shm.Record) string {
	prefix := strconv.FormatUint(uint64(req.index), 10)
	if req.raw {
		b := rec.Snapshot()
		return prefix + " raw " + hex.EncodeToString(b[:])
	}
	switch req.kind {
	case server.KindSemaphore:
		sem := rec.Semaphore()
		return fmt.Sprintf("%s %s count=%d max=%d", prefix, req.kind, sem.Count(), sem.Max())
	case server.KindMutex:
		owner, count := rec.Mutex().Load()
		switch owner {
		case shm.NoOwner:
			return fmt.Sprintf("%s %s free", prefix, req.kind)
		case shm.Abandoned:
			return fmt.Sprintf("%s %s abandoned", prefix, req.kind)
		default:
			return fmt.Sprintf("%s %s owner=%d recursion=%d", prefix, req.kind, owner, count)
		}
	default:
		ev := rec.Event()
		return fmt.Sprintf("%s %s signaled=%t locked=%t", prefix, req.kind, ev.Signaled(), ev.Locked())
	}
}
