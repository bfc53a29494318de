package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/llm"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

const validSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><rect width="10" height="10"/></svg>`

var longText = strings.Repeat("generated text ", 10)

type reply struct {
	text string
	err  error
}

// scriptedClient returns replies in order, then repeats the last one.
type scriptedClient struct {
	mu      sync.Mutex
	replies []reply
	calls   int
}

func newScripted(replies ...reply) *scriptedClient {
	return &scriptedClient{replies: replies}
}

func (c *scriptedClient) Submit(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	c.calls++
	r := c.replies[i]
	return r.text, r.err
}

func (c *scriptedClient) Model() string { return "scripted" }
func (c *scriptedClient) Close()        {}

func (c *scriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// titleClient answers by section title, which titleRenderer sends as the
// user prompt. call counts from 1 for each title.
type titleClient struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(title string, call int) reply
}

func newTitleClient(respond func(title string, call int) reply) *titleClient {
	return &titleClient{calls: make(map[string]int), respond: respond}
}

func (c *titleClient) Submit(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	c.calls[req.User]++
	n := c.calls[req.User]
	c.mu.Unlock()
	r := c.respond(req.User, n)
	return r.text, r.err
}

func (c *titleClient) Model() string { return "titles" }
func (c *titleClient) Close()        {}

func (c *titleClient) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// titleRenderer puts the section title in the user prompt.
type titleRenderer struct{}

func (titleRenderer) Render(sec doctree.Section) (string, string, error) {
	return "system", sec.Title, nil
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func failure(class llm.Class) reply {
	return reply{err: &llm.Failure{Class: class, Message: "scripted " + string(class)}}
}
