// Package console runs the operator read-eval-print loop.
package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dimiro1/banner"

	"github.com/user/mcp-tool-relay/logging"
	"github.com/user/mcp-tool-relay/relay"
	"github.com/user/mcp-tool-relay/store"
)

const (
	prompt     = "\nUser : "
	answerTag  = "\nLLM :"
	errorTag   = "\nError : "
	exitWord   = "quit"
	bannerText = "{{ .Title \"MCP RELAY\" \"\" 0 }}\n"
)

// Processor answers one query against a tool session.
type Processor interface {
	Handle(ctx context.Context, sess relay.ToolSession, query string) (*relay.Result, error)
}

// Recorder persists processed queries.
type Recorder interface {
	RecordTranscript(t *store.Transcript) error
}

type Options struct {
	// QueryTimeout bounds one query; zero means no deadline.
	QueryTimeout time.Duration
	Banner       bool
	Version      string
	SessionID    string
	Recorder     Recorder
	Logger       *logging.Logger
}

type Loop struct {
	relay  Processor
	sess   relay.ToolSession
	in     io.Reader
	out    io.Writer
	opts   Options
	logger *logging.Logger
}

func New(p Processor, sess relay.ToolSession, in io.Reader, out io.Writer, opts Options) *Loop {
	return &Loop{
		relay:  p,
		sess:   sess,
		in:     in,
		out:    out,
		opts:   opts,
		logger: opts.Logger.With("console"),
	}
}

// Run reads queries until "quit", end of input or ctx cancellation. Query
// failures are printed and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	if l.opts.Banner {
		tpl := bannerText
		if l.opts.Version != "" {
			tpl += "Version: " + l.opts.Version + "\n"
		}
		banner.Init(l.out, true, false, bytes.NewBufferString(tpl))
	}
	fmt.Fprintln(l.out, "\nMCP Client Started!")
	fmt.Fprintln(l.out, "Type your queries or 'quit' to exit.")

	done := make(chan struct{})
	defer close(done)
	lines := readLines(l.in, done)
	for {
		fmt.Fprint(l.out, prompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(l.out)
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(l.out)
			return nil
		}

		query := strings.TrimSpace(line)
		if strings.EqualFold(query, exitWord) {
			return nil
		}
		if query == "" {
			continue
		}

		res, err := l.answer(ctx, query)
		if err != nil {
			fmt.Fprintf(l.out, "%s%v \n", errorTag, err)
		} else {
			fmt.Fprintf(l.out, "%s%s\n", answerTag, res.Output)
		}
		l.record(query, res, err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// answer processes one query, converting a panic into an error.
func (l *Loop) answer(ctx context.Context, query string) (res *relay.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("query panicked: %v", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if l.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.QueryTimeout)
		defer cancel()
	}
	return l.relay.Handle(ctx, l.sess, query)
}

func (l *Loop) record(query string, res *relay.Result, err error) {
	if l.opts.Recorder == nil {
		return
	}

	t := &store.Transcript{SessionID: l.opts.SessionID, Query: query}
	if err != nil {
		t.Error = err.Error()
	}
	if res != nil {
		if err == nil {
			t.Response = res.Output
		}
		for _, call := range res.ToolCalls {
			args, _ := json.Marshal(call.Args)
			t.ToolCalls = append(t.ToolCalls, store.ToolCallRecord{
				Tool:      call.Name,
				Arguments: string(args),
				Result:    call.Result.Text,
				IsError:   call.Result.IsError,
			})
		}
	}

	if err := l.opts.Recorder.RecordTranscript(t); err != nil {
		l.logger.Warn("failed to record transcript: %v", err)
	}
}

// readLines feeds lines from r into a channel closed at end of input or
// once done is closed. A read blocked on r is not interrupted.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
