// Package session implements the interactive crawl job console. It wires the
// orchestrator, the reconciliation loop and the event bus together and reads
// one command per line.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/celestiaorg/crawlctl/internal/events"
	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/internal/registry"
	"github.com/celestiaorg/crawlctl/internal/services"
	"github.com/celestiaorg/crawlctl/internal/tracker"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
)

// ShutdownTimeout bounds the stop calls issued when the session ends
const ShutdownTimeout = 10 * time.Second

// Options configures a session
type Options struct {
	// PollInterval is the reconciliation interval
	PollInterval time.Duration
	// Out receives command output and notifications
	Out io.Writer
}

// Session is one interactive console
type Session struct {
	client     client.Client
	orch       *services.Orchestrator
	reconciler *services.Reconciler
	bus        *events.Bus

	outMu sync.Mutex
	out   io.Writer

	// background verbs other than crawls
	bg sync.WaitGroup
}

// New creates a session on top of c
func New(c client.Client, opts Options) *Session {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	bus := events.NewBus(events.EventChannelSize)
	reg := registry.New()

	s := &Session{
		client:     c,
		orch:       services.NewOrchestrator(c, reg, tracker.New(), bus),
		reconciler: services.NewReconciler(c, reg, bus, opts.PollInterval),
		bus:        bus,
		out:        out,
	}

	bus.Subscribe(events.EventNotification, func(_ context.Context, e events.Event) error {
		s.println(e.String())
		return nil
	})
	bus.Subscribe(events.EventTaskUpdated, func(_ context.Context, e events.Event) error {
		logger.DebugWithFields("task updated", map[string]interface{}{"task_id": e.TaskID, "status": e.Status.String()})
		return nil
	})
	bus.Subscribe(events.EventTasksRefreshed, func(_ context.Context, e events.Event) error {
		logger.DebugWithFields("tasks refreshed", map[string]interface{}{"count": e.Count})
		return nil
	})

	return s
}

// Orchestrator returns the session's orchestrator
func (s *Session) Orchestrator() *services.Orchestrator {
	return s.orch
}

// Run starts reconciliation and executes commands read from in until "quit",
// end of input or ctx is done. Live crawls are stopped before it returns.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	busCtx, cancelBus := context.WithCancel(context.WithoutCancel(ctx))
	busDone := s.bus.Start(busCtx)
	defer func() {
		cancelBus()
		<-busDone
	}()

	if err := s.reconciler.Start(ctx); err != nil {
		return err
	}
	defer s.shutdown(ctx)

	s.println("Type 'help' for a list of commands.")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if s.Execute(ctx, line) {
				return nil
			}
		}
	}
}

// shutdown stops live crawls and waits for every background verb and the loop
func (s *Session) shutdown(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	if err := s.orch.StopAll(stopCtx); err != nil {
		logger.Warnf("Failed to stop every crawl: %v", err)
	}
	s.bg.Wait()
	s.orch.Wait()
	s.reconciler.Stop()
}

// Execute runs one command line and reports whether the session should end
func (s *Session) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		s.help()
	case "list", "ls":
		s.list(strings.Join(args, " "))
	case "add":
		_, _ = s.orch.Add(ctx, strings.Join(args, " "))
	case "select":
		s.eachID(args, func(id int64) { s.orch.ToggleSelection(id, true) })
	case "unselect":
		s.eachID(args, func(id int64) { s.orch.ToggleSelection(id, false) })
	case "select-all":
		s.orch.SelectAll()
	case "select-none":
		s.orch.SelectNone()
	case "start":
		s.eachID(args, func(id int64) {
			if err := s.orch.StartByID(ctx, id); errors.Is(err, services.ErrUnknownTask) {
				s.printf("[error] No job with ID %d\n", id)
			}
		})
	case "start-selected":
		if n := s.orch.StartSelected(ctx); n == 0 {
			s.println("[info] No jobs selected.")
		}
	case "stop":
		s.eachID(args, func(id int64) { _ = s.orch.Stop(ctx, id) })
	case "delete", "rm":
		s.eachID(args, func(id int64) {
			s.background(func() { _ = s.orch.Delete(ctx, id) })
		})
	case "delete-selected":
		if len(s.orch.Selection()) == 0 {
			s.println("[info] No jobs selected.")
			return false
		}
		s.background(func() { _ = s.orch.DeleteSelected(ctx) })
	case "links":
		s.eachID(args, func(id int64) { s.links(ctx, id) })
	case "refresh":
		if err := s.reconciler.Tick(ctx); errors.Is(err, services.ErrTickInFlight) {
			s.println("[info] A refresh is already running.")
		}
	default:
		s.printf("[error] Unknown command %q. Type 'help' for a list of commands.\n", name)
	}
	return false
}

func (s *Session) background(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

func (s *Session) eachID(args []string, fn func(id int64)) {
	if len(args) == 0 {
		s.println("[error] Missing job ID.")
		return
	}
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			s.printf("[error] Invalid job ID %q\n", arg)
			continue
		}
		fn(id)
	}
}

func (s *Session) list(query string) {
	tasks := s.orch.Registry().List()

	s.outMu.Lock()
	defer s.outMu.Unlock()

	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEL\tID\tSTATUS\tTITLE\tURL\tINTERNAL\tEXTERNAL\tBROKEN")
	remoteRunning := make(map[int64]bool)
	for _, id := range s.orch.Registry().InProgress() {
		remoteRunning[id] = true
	}
	shown := 0
	for _, task := range tasks {
		if !task.Matches(query) {
			continue
		}
		shown++
		sel := " "
		if s.orch.IsSelected(task.ID) {
			sel = "x"
		}
		status := orDash(task.Status.String())
		if remoteRunning[task.ID] && !s.orch.Tracker().IsActive(task.ID) {
			status += " (elsewhere)"
		}
		if s.orch.IsDeleting(task.ID) {
			status += " (deleting)"
		}
		fmt.Fprintf(w, "[%s]\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sel, task.ID, status, orDash(task.Title()), task.URL,
			count(task.InternalLinks), count(task.ExternalLinks), count(task.BrokenLinks))
	}
	_ = w.Flush()
	if shown == 0 {
		fmt.Fprintln(s.out, "No jobs.")
	}
}

func (s *Session) links(ctx context.Context, id int64) {
	links, err := s.client.GetBrokenLinks(ctx, id)
	if err != nil {
		s.printf("[error] Failed to load broken links for ID %d: %v\n", id, err)
		return
	}
	if len(links) == 0 {
		s.printf("No broken links for ID %d.\n", id)
		return
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tURL")
	for _, link := range links {
		fmt.Fprintf(w, "%d\t%s\n", link.StatusCode, link.URL)
	}
	_ = w.Flush()
}

const helpText = `Commands:
  list [query]        show jobs, optionally filtered by title or URL
  add <url>           register a URL
  select <id...>      select jobs
  unselect <id...>    unselect jobs
  select-all          select every job
  select-none         clear the selection
  start <id...>       start crawls
  start-selected      start a crawl for every selected job
  stop <id...>        stop running crawls
  delete <id...>      delete jobs
  delete-selected     delete every selected job
  links <id>          show the broken links of a job
  refresh             reload jobs now
  help                show this text
  quit                stop running crawls and exit`

func (s *Session) help() {
	s.println(helpText)
}

func (s *Session) println(msg string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, msg)
}

func (s *Session) printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func count(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
