package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

type flavor int

const (
	flavorLlamaServer flavor = iota
	flavorVLLM
)

func (f flavor) String() string {
	if f == flavorVLLM {
		return "vllm"
	}
	return "llama-server"
}

func (f flavor) defaultBin() string {
	if f == flavorVLLM {
		return "vllm"
	}
	return "llama-server"
}

const (
	defaultStartupTimeout = 5 * time.Minute
	stopGrace             = 10 * time.Second
	// vLLM tuning carried over from the original deployment: leave headroom
	// for the OS and the CPU embedding model, and cap the context window so
	// long-context models do not OOM.
	defaultGPUMemoryUtilization = 0.85
	defaultMaxModelLen          = 8192
)

// subprocessRuntime spawns one OpenAI-compatible server process per load.
// The process owns the accelerator memory; killing it releases the memory.
type subprocessRuntime struct {
	cfg    Config
	flavor flavor
	client *http.Client
	log    zerolog.Logger

	mu    sync.Mutex
	procs map[*serverHandle]struct{}
}

func newSubprocessRuntime(cfg Config, f flavor) *subprocessRuntime {
	// Timeout=0: all calls carry contexts; generation has no deadline.
	return &subprocessRuntime{
		cfg:    cfg,
		flavor: f,
		client: &http.Client{Timeout: 0},
		log:    cfg.Logger,
		procs:  make(map[*serverHandle]struct{}),
	}
}

func (r *subprocessRuntime) Name() string { return r.flavor.String() }

func (r *subprocessRuntime) bin() string {
	if b := strings.TrimSpace(r.cfg.Bin); b != "" {
		return b
	}
	return r.flavor.defaultBin()
}

func (r *subprocessRuntime) host() string {
	if h := strings.TrimSpace(r.cfg.Host); h != "" {
		return h
	}
	return "127.0.0.1"
}

// args builds the server command line for spec.
func (r *subprocessRuntime) args(spec LoadSpec, host string, port int) []string {
	var args []string
	switch r.flavor {
	case flavorVLLM:
		util := r.cfg.GPUMemoryUtilization
		if util <= 0 {
			util = defaultGPUMemoryUtilization
		}
		maxLen := r.cfg.MaxModelLen
		if maxLen <= 0 {
			maxLen = defaultMaxModelLen
		}
		args = []string{
			"serve", spec.Path,
			"--host", host,
			"--port", strconv.Itoa(port),
			"--served-model-name", spec.ModelID,
			"--dtype", "auto",
			"--gpu-memory-utilization", strconv.FormatFloat(util, 'f', -1, 64),
			"--max-model-len", strconv.Itoa(maxLen),
			"--trust-remote-code",
			// Eager mode skips CUDA graph capture, which makes teardown reliable.
			"--enforce-eager",
		}
		if spec.Quantization != "" && spec.Quantization != QuantNone {
			args = append(args, "--quantization", string(spec.Quantization))
		}
	default:
		args = []string{
			"-m", spec.Path,
			"--host", host,
			"--port", strconv.Itoa(port),
			"--alias", spec.ModelID,
		}
		if r.cfg.CtxSize > 0 {
			args = append(args, "-c", strconv.Itoa(r.cfg.CtxSize))
		}
		if r.cfg.GPULayers > 0 {
			args = append(args, "-ngl", strconv.Itoa(r.cfg.GPULayers))
		}
		if r.cfg.Threads > 0 {
			args = append(args, "-t", strconv.Itoa(r.cfg.Threads))
		}
	}
	return append(args, r.cfg.ExtraArgs...)
}

func (r *subprocessRuntime) pickPort(host string) (int, error) {
	if r.cfg.PortStart > 0 && r.cfg.PortEnd >= r.cfg.PortStart {
		for p := r.cfg.PortStart; p <= r.cfg.PortEnd; p++ {
			l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
			if err != nil {
				continue
			}
			_ = l.Close()
			return p, nil
		}
		return 0, fmt.Errorf("no free port in range %d-%d", r.cfg.PortStart, r.cfg.PortEnd)
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (r *subprocessRuntime) Load(ctx context.Context, spec LoadSpec) (Handle, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	bin, err := exec.LookPath(r.bin())
	if err != nil {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("%s not found: %v", r.flavor, err))
	}
	host := r.host()
	port, err := r.pickPort(host)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, r.args(spec, host, port)...)
	tail := &tailBuffer{max: 4096}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.flavor, err)
	}
	h := &serverHandle{
		client:  r.client,
		cmd:     cmd,
		baseURL: fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port))),
		model:   spec.ModelID,
		exited:  make(chan struct{}),
		onClose: r.untrack,
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.exited)
	}()
	r.track(h)
	r.log.Info().Str("runtime", r.flavor.String()).Str("model", spec.ModelID).Int("pid", cmd.Process.Pid).Str("url", h.baseURL).Msg("server spawned")

	if err := r.waitReady(ctx, h, tail); err != nil {
		// Roll back the partial allocation before reporting.
		if cerr := h.Close(); cerr != nil {
			r.log.Warn().Err(cerr).Str("model", spec.ModelID).Msg("rollback stop failed")
		}
		return nil, err
	}
	r.log.Info().Str("runtime", r.flavor.String()).Str("model", spec.ModelID).Msg("server ready")
	if r.flavor == flavorVLLM {
		return &vllmTemplatingHandle{serverHandle: h}, nil
	}
	return &templatingHandle{serverHandle: h}, nil
}

func (r *subprocessRuntime) waitReady(ctx context.Context, h *serverHandle, stderr *tailBuffer) error {
	timeout := r.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if h.healthy(ctx) {
			return nil
		}
		select {
		case <-h.exited:
			return fmt.Errorf("%s exited before ready: %v; stderr tail: %s", r.flavor, h.waitErr, stderr.String())
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%s not ready within %s: %s", r.flavor, timeout, h.baseURL)
		case <-tick.C:
		}
	}
}

func (r *subprocessRuntime) track(h *serverHandle) {
	r.mu.Lock()
	r.procs[h] = struct{}{}
	r.mu.Unlock()
}

func (r *subprocessRuntime) untrack(h *serverHandle) {
	r.mu.Lock()
	delete(r.procs, h)
	r.mu.Unlock()
}

// Teardown stops every server this runtime still tracks.
func (r *subprocessRuntime) Teardown() error {
	r.mu.Lock()
	live := make([]*serverHandle, 0, len(r.procs))
	for h := range r.procs {
		live = append(live, h)
	}
	r.mu.Unlock()
	var errs []error
	for _, h := range live {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// serverHandle is one spawned server process.
type serverHandle struct {
	client  *http.Client
	cmd     *exec.Cmd
	baseURL string
	model   string
	exited  chan struct{}
	waitErr error
	onClose func(*serverHandle)

	closeOnce sync.Once
	closeErr  error
}

func (h *serverHandle) healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func (h *serverHandle) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	temp := p.Temperature
	if temp <= 0 {
		temp = DefaultTemperature
	}
	var out completionResponse
	err := h.postJSON(ctx, "/v1/completions", completionRequest{
		Model:       h.model,
		Prompt:      prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: temp,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}
	return out.Choices[0].Text, nil
}

func (h *serverHandle) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, errNotSupported)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server http error: %s: %s", resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close stops the process: SIGTERM, then SIGKILL after a grace period.
func (h *serverHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.stop()
		if h.onClose != nil {
			h.onClose(h)
		}
	})
	return h.closeErr
}

func (h *serverHandle) stop() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	select {
	case <-h.exited:
		return nil
	default:
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Platforms without SIGTERM go straight to kill.
		_ = h.cmd.Process.Kill()
	}
	select {
	case <-h.exited:
		return nil
	case <-time.After(stopGrace):
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.cmd.Process.Pid, err)
	}
	<-h.exited
	return nil
}

// templatingHandle adds llama-server's /apply-template endpoint.
type templatingHandle struct {
	*serverHandle
}

func (h *templatingHandle) ApplyChatTemplate(ctx context.Context, msgs []Message) (string, error) {
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := h.postJSON(ctx, "/apply-template", map[string]any{"messages": msgs}, &out); err != nil {
		return "", err
	}
	if out.Prompt == "" {
		return "", errors.New("apply-template returned an empty prompt")
	}
	return out.Prompt, nil
}

// vllmTemplatingHandle renders the model's tokenizer chat template through
// vLLM's /tokenize and /detokenize endpoints.
type vllmTemplatingHandle struct {
	*serverHandle
}

func (h *vllmTemplatingHandle) ApplyChatTemplate(ctx context.Context, msgs []Message) (string, error) {
	var tok struct {
		Tokens []int `json:"tokens"`
	}
	err := h.postJSON(ctx, "/tokenize", map[string]any{
		"model":                 h.model,
		"messages":              msgs,
		"add_generation_prompt": true,
		"add_special_tokens":    false,
	}, &tok)
	if err != nil {
		return "", err
	}
	if len(tok.Tokens) == 0 {
		return "", errors.New("tokenize returned no tokens")
	}
	var detok struct {
		Prompt string `json:"prompt"`
	}
	if err := h.postJSON(ctx, "/detokenize", map[string]any{"model": h.model, "tokens": tok.Tokens}, &detok); err != nil {
		return "", err
	}
	if detok.Prompt == "" {
		return "", errors.New("detokenize returned an empty prompt")
	}
	return detok.Prompt, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
