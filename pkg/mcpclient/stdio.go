package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vikashloomba/mcp-host-go/pkg/jsonrpc"
)

// ProtocolVersion is the protocol revision advertised during the stdio
// initialize handshake.
const ProtocolVersion = "2025-06-18"

const maxLineBytes = 4 << 20

var defaultClientInfo = jsonrpc.ClientInfo{Name: "MCP_Agent", Version: "0.1.0"}

// StdioOptions tune a StdioClient. The zero value is usable.
type StdioOptions struct {
	// Timeout bounds the handshake and each dequeue wait. Defaults to 15s.
	Timeout time.Duration
	// Correlated routes responses to their requests by id instead of the
	// default single-flight discard discipline.
	Correlated bool
	// ClientInfo overrides the identity sent in the initialize handshake.
	ClientInfo *jsonrpc.ClientInfo
	// Logger receives degraded-call diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
}

// StdioClient owns a spawned server subprocess and speaks line-delimited
// JSON-RPC over its standard input/output. A background goroutine reads the
// subprocess's stdout; callers block on request/response with a timeout.
type StdioClient struct {
	server  string
	cmd     *exec.Cmd
	session *stdioSession

	closeOnce sync.Once
}

var _ ToolClient = (*StdioClient)(nil)

// NewStdioClient selects the named stdio entry (or the first stdio entry when
// the name is empty or does not match), spawns the configured command, and
// performs the initialize handshake. An invalid working directory or an
// executable that cannot be located fails with a *ConfigError; a handshake
// that produces no response within the timeout fails with a *ProtocolError.
func NewStdioClient(doc *Document, serverName string, opts *StdioOptions) (*StdioClient, error) {
	if opts == nil {
		opts = &StdioOptions{}
	}
	if doc == nil {
		doc = &Document{Servers: map[string]*ServerEntry{}}
	}
	name, entry, ok := doc.ResolveStdioEntry(serverName)
	if !ok {
		return nil, configErrorf(serverName, "no stdio server entry found")
	}
	if entry.Command == "" {
		return nil, configErrorf(name, "stdio entry is missing a command")
	}
	if entry.Cwd != "" {
		info, err := os.Stat(entry.Cwd)
		if err != nil || !info.IsDir() {
			return nil, configErrorf(name, "invalid working directory: %s", entry.Cwd)
		}
	}
	exe, err := exec.LookPath(entry.Command)
	if err != nil {
		return nil, configErrorf(name, "command not found: %s; ensure it is installed and on PATH (PATH=%s)",
			entry.Command, os.Getenv("PATH"))
	}

	cmd := exec.Command(exe, entry.Args...)
	cmd.Dir = entry.Cwd
	env := os.Environ()
	for k, v := range entry.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, configErrorf(name, "open stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, configErrorf(name, "open stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, configErrorf(name, "start %s: %v", entry.Command, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	session := newStdioSession(name, stdin, timeout, opts.Correlated, logger)
	go func() {
		session.readLoop(stdout)
		_ = cmd.Wait()
	}()

	client := &StdioClient{server: name, cmd: cmd, session: session}
	info := defaultClientInfo
	if opts.ClientInfo != nil {
		info = *opts.ClientInfo
	}
	if err := session.initialize(info); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Server returns the resolved server name the client is bound to.
func (c *StdioClient) Server() string { return c.server }

// ListTools fetches the subprocess's tool catalog.
func (c *StdioClient) ListTools(ctx context.Context) ToolListPage {
	page := ToolListPage{Tools: []ToolDescriptor{}, RemoteEnabled: true}
	resp := c.session.call(jsonrpc.MethodListTools, nil)
	if resp == nil {
		page.Diagnostic = "no response before timeout"
		return page
	}
	var res struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if resp.HasResult() {
		if err := json.Unmarshal(resp.Result, &res); err != nil {
			page.Diagnostic = fmt.Sprintf("decode tools: %v", err)
			return page
		}
	} else if resp.HasError() {
		page.Diagnostic = string(resp.Error)
	}
	if res.Tools != nil {
		page.Tools = res.Tools
	}
	return page
}

// ListPrompts fetches the subprocess's prompt catalog.
func (c *StdioClient) ListPrompts(ctx context.Context) PromptListPage {
	page := PromptListPage{Prompts: []Prompt{}, RemoteEnabled: true}
	resp := c.session.call(jsonrpc.MethodListPrompts, nil)
	if resp == nil {
		page.Diagnostic = "no response before timeout"
		return page
	}
	var res struct {
		Prompts []Prompt `json:"prompts"`
	}
	if resp.HasResult() {
		if err := json.Unmarshal(resp.Result, &res); err != nil {
			page.Diagnostic = fmt.Sprintf("decode prompts: %v", err)
			return page
		}
	} else if resp.HasError() {
		page.Diagnostic = string(resp.Error)
	}
	if res.Prompts != nil {
		page.Prompts = res.Prompts
	}
	return page
}

// ListResources fetches the subprocess's resource catalog.
func (c *StdioClient) ListResources(ctx context.Context) ResourceListPage {
	page := ResourceListPage{Resources: []Resource{}, RemoteEnabled: true}
	resp := c.session.call(jsonrpc.MethodListResources, nil)
	if resp == nil {
		page.Diagnostic = "no response before timeout"
		return page
	}
	var res struct {
		Resources []Resource `json:"resources"`
	}
	if resp.HasResult() {
		if err := json.Unmarshal(resp.Result, &res); err != nil {
			page.Diagnostic = fmt.Sprintf("decode resources: %v", err)
			return page
		}
	} else if resp.HasError() {
		page.Diagnostic = string(resp.Error)
	}
	if res.Resources != nil {
		page.Resources = res.Resources
	}
	return page
}

// CallTool invokes the named tool over stdio. A missing or timed-out
// response yields a nil result, leaving the client usable for later calls.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) CallOutcome {
	if args == nil {
		args = map[string]any{}
	}
	resp := c.session.call(jsonrpc.MethodCallTool, jsonrpc.CallParams{Name: name, Arguments: args})
	if resp == nil {
		c.session.logger.Error("MCP call failed", zap.String("tool", name), zap.String("diagnostic", "no response before timeout"))
		return CallOutcome{Diagnostic: "no response before timeout"}
	}
	if resp.HasError() {
		return CallOutcome{Diagnostic: string(resp.Error)}
	}
	unwrapped := unwrapCallResult(resp.Result)
	if unwrapped == nil {
		return CallOutcome{Diagnostic: "empty result"}
	}
	return CallOutcome{Result: unwrapped}
}

// Ping reports whether the subprocess answers a tools/list round-trip.
func (c *StdioClient) Ping(ctx context.Context) bool {
	return c.session.call(jsonrpc.MethodListTools, nil) != nil
}

// Close attempts a graceful shutdown: close the subprocess's stdin, then
// terminate the process. All failures are swallowed.
func (c *StdioClient) Close() error {
	c.closeOnce.Do(func() {
		_ = c.session.stdin.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		c.session.queue.close()
	})
	return nil
}

// stdioSession holds the request/response machinery independently of process
// management so the demultiplexing semantics are testable over plain pipes.
type stdioSession struct {
	server     string
	stdin      io.WriteCloser
	timeout    time.Duration
	correlated bool
	logger     *zap.Logger

	queue *lineQueue

	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Message
}

func newStdioSession(server string, stdin io.WriteCloser, timeout time.Duration, correlated bool, logger *zap.Logger) *stdioSession {
	return &stdioSession{
		server:     server,
		stdin:      stdin,
		timeout:    timeout,
		correlated: correlated,
		logger:     logger.With(zap.String("server", server)),
		queue:      newLineQueue(),
		pending:    make(map[string]chan *jsonrpc.Message),
	}
}

// readLoop consumes the subprocess's stdout until EOF, splitting on line
// boundaries, discarding empty lines, and handing each non-empty line to the
// dispatcher. It owns the queue's closure.
func (s *stdioSession) readLoop(r io.Reader) {
	defer s.queue.close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		s.dispatch(line)
	}
}

func (s *stdioSession) dispatch(line string) {
	if !s.correlated {
		s.queue.put(line)
		return
	}
	msg, err := jsonrpc.DecodeMessage([]byte(line))
	if err != nil {
		s.logger.Debug("dropping undecodable line", zap.Error(err))
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
	}
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("dropping unmatched response", zap.String("id", msg.ID))
		return
	}
	ch <- msg
}

func (s *stdioSession) send(req *jsonrpc.Request) error {
	line, err := jsonrpc.EncodeLine(req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.stdin.Write(line)
	return err
}

// call builds a request for the method and runs it through the session's
// request/response discipline, returning nil on timeout or write failure.
func (s *stdioSession) call(method string, params any) *jsonrpc.Message {
	return s.request(jsonrpc.NewRequest(method, params))
}

// request sends one request and blocks until a response with the matching id
// arrives or a dequeue wait times out. In the default single-flight mode a
// dequeued message whose id does not match is discarded, not requeued; this
// is why the client must be used with at most one outstanding request.
func (s *stdioSession) request(req *jsonrpc.Request) *jsonrpc.Message {
	if s.correlated {
		ch := make(chan *jsonrpc.Message, 1)
		s.mu.Lock()
		s.pending[req.ID] = ch
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.pending, req.ID)
			s.mu.Unlock()
		}()
		if err := s.send(req); err != nil {
			s.logger.Debug("send failed", zap.Error(err))
			return nil
		}
		select {
		case msg := <-ch:
			return msg
		case <-time.After(s.timeout):
			return nil
		}
	}

	if err := s.send(req); err != nil {
		s.logger.Debug("send failed", zap.Error(err))
		return nil
	}
	for {
		line, ok := s.queue.get(s.timeout)
		if !ok {
			return nil
		}
		msg, err := jsonrpc.DecodeMessage([]byte(line))
		if err != nil {
			continue
		}
		if msg.ID == req.ID {
			return msg
		}
		// Mismatched ids are dropped; see the single-flight note above.
	}
}

// initialize performs the synchronous handshake. A response must carry a
// result or error key within the timeout; anything else is fatal.
func (s *stdioSession) initialize(info jsonrpc.ClientInfo) error {
	req := jsonrpc.NewRequest(jsonrpc.MethodInitialize, jsonrpc.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      info,
	})
	resp := s.request(req)
	if resp == nil || (!resp.HasResult() && !resp.HasError()) {
		return protocolErrorf(s.server, "initialize failed")
	}
	return nil
}

// lineQueue is the unbounded single-producer/single-consumer queue between
// the reader goroutine and the caller waiting in request.
type lineQueue struct {
	mu     sync.Mutex
	items  []string
	ready  chan struct{}
	done   chan struct{}
	closed sync.Once
}

func newLineQueue() *lineQueue {
	return &lineQueue{ready: make(chan struct{}, 1), done: make(chan struct{})}
}

func (q *lineQueue) put(line string) {
	q.mu.Lock()
	q.items = append(q.items, line)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *lineQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	line := q.items[0]
	q.items = q.items[1:]
	return line, true
}

// get waits up to timeout for one line. It returns false on timeout or when
// the queue is closed and drained.
func (q *lineQueue) get(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if line, ok := q.pop(); ok {
			return line, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.ready:
			timer.Stop()
		case <-q.done:
			timer.Stop()
			if line, ok := q.pop(); ok {
				return line, true
			}
			return "", false
		case <-timer.C:
			return "", false
		}
	}
}

func (q *lineQueue) close() {
	q.closed.Do(func() { close(q.done) })
}
