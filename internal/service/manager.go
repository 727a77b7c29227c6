package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"surfacehost/internal/surface"
)

const (
	defaultScannerBufSize  = 1024 * 1024 // 1 MB
	defaultHistoryLines    = 1000
	defaultGracefulTimeout = 5 * time.Second

	surfacePrefix = "console:"
	stderrColor   = "\x1b[31m"
	resetColor    = "\x1b[0m"
)

var (
	ErrNotFound       = errors.New("service not found")
	ErrLimitReached   = errors.New("maximum service limit reached")
	ErrExited         = errors.New("service exited")
	ErrInvalidWorkDir = errors.New("invalid working directory")
	ErrSpawn          = errors.New("failed to start service")
	ErrSurfaceInUse   = errors.New("console surface used by a running service")
)

// Config controls how services are started.
type Config struct {
	// Command is the program and arguments every service runs.
	Command         []string
	MaxServices     int
	HistoryLines    int
	GracefulTimeout time.Duration
}

// Manager manages the lifecycle of hosted runtime processes.
type Manager struct {
	reg *surface.Registry

	mu          sync.RWMutex
	services    map[string]*managedService
	command     []string
	maxServices int
	history     int
	grace       time.Duration
}

type managedService struct {
	mu  sync.Mutex
	svc Service

	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdin   *stdinWriter
	history *History

	// dispatcher is this service's runtime context; only its own goroutines
	// write through it.
	dispatcher *surface.Dispatcher
	reported   bool
	done       chan struct{}

	// exiting is set once the console is being closed; the Detached event
	// that follows closes detached.
	exiting    bool
	detached   chan struct{}
	detachOnce sync.Once
	grace      time.Duration
}

// stdinWriter wraps a pipe writer with mutex protection.
type stdinWriter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	closed bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}

// NewManager creates a service manager whose services draw on reg.
func NewManager(reg *surface.Registry, cfg Config) *Manager {
	if cfg.HistoryLines <= 0 {
		cfg.HistoryLines = defaultHistoryLines
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	return &Manager{
		reg:         reg,
		services:    make(map[string]*managedService),
		command:     append([]string(nil), cfg.Command...),
		maxServices: cfg.MaxServices,
		history:     cfg.HistoryLines,
		grace:       cfg.GracefulTimeout,
	}
}

// SetMaxServices changes the limit on running services. Services already
// running are not affected.
func (m *Manager) SetMaxServices(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxServices = n
}

// Create starts a new service in workDir. Its output goes to the console
// surface named "console:<label>", or "console:<id>" without a label.
func (m *Manager) Create(workDir, label string) (Service, error) {
	info, err := os.Stat(workDir)
	if err != nil {
		return Service{}, fmt.Errorf("%w: %s does not exist", ErrInvalidWorkDir, workDir)
	}
	if !info.IsDir() {
		return Service{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidWorkDir, workDir)
	}

	m.mu.Lock()
	running := 0
	for _, ms := range m.services {
		if ms.snapshot().State != StateExited {
			running++
		}
	}
	if running >= m.maxServices {
		m.mu.Unlock()
		return Service{}, fmt.Errorf("%w (%d)", ErrLimitReached, m.maxServices)
	}
	if len(m.command) == 0 {
		m.mu.Unlock()
		return Service{}, fmt.Errorf("%w: no command configured", ErrSpawn)
	}
	binaryPath, err := exec.LookPath(m.command[0])
	if err != nil {
		m.mu.Unlock()
		return Service{}, fmt.Errorf("%w: %s not found in PATH", ErrSpawn, m.command[0])
	}

	id := uuid.New().String()
	name := surfacePrefix + id
	if label != "" {
		name = surfacePrefix + label
		for _, ms := range m.services {
			if svc := ms.snapshot(); svc.Surface == name && svc.State != StateExited {
				m.mu.Unlock()
				return Service{}, fmt.Errorf("%w: %s (service %s)", ErrSurfaceInUse, name, svc.ID)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binaryPath, m.command[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "SURFACE="+name, "SERVICE_ID="+id)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		m.mu.Unlock()
		return Service{}, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		m.mu.Unlock()
		return Service{}, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		m.mu.Unlock()
		return Service{}, fmt.Errorf("create stderr pipe: %w", err)
	}

	ms := &managedService{
		svc: Service{
			ID:        id,
			Label:     label,
			WorkDir:   workDir,
			Surface:   name,
			State:     StateStarting,
			CreatedAt: time.Now().UTC(),
		},
		cmd:      cmd,
		cancel:   cancel,
		stdin:    &stdinWriter{writer: stdin},
		history:  NewHistory(m.history),
		done:     make(chan struct{}),
		detached: make(chan struct{}),
		grace:    m.grace,
	}
	ms.dispatcher = surface.NewDispatcher(m.reg, surface.EventHandlerFunc(ms.handleEvent))

	m.services[id] = ms
	m.mu.Unlock()

	if err := cmd.Start(); err != nil {
		cancel()
		m.mu.Lock()
		delete(m.services, id)
		m.mu.Unlock()
		return Service{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	ms.mu.Lock()
	ms.svc.State = StateRunning
	ms.mu.Unlock()

	var scanners sync.WaitGroup
	scanners.Add(2)
	go func() {
		defer scanners.Done()
		ms.scanOutput(stdout, StreamStdout)
	}()
	go func() {
		defer scanners.Done()
		ms.scanOutput(stderr, StreamStderr)
	}()
	go ms.pumpEvents()
	go ms.waitForExit(&scanners)

	log.Printf("service %s: started %s on %s", id, m.command[0], name)
	return ms.snapshot(), nil
}

func (ms *managedService) snapshot() Service {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	svc := ms.svc
	svc.OutputBytes = ms.history.Bytes()
	return svc
}

// scanOutput copies lines from a pipe into the history and onto the console
// surface. stderr lines are painted red.
func (ms *managedService) scanOutput(pipe io.Reader, stream Stream) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, defaultScannerBufSize), defaultScannerBufSize)

	for scanner.Scan() {
		text := scanner.Text()
		ms.history.Add(OutputLine{Stream: stream, Data: text, Timestamp: time.Now().UTC()})
		if stream == StreamStderr {
			text = stderrColor + text + resetColor
		}
		ms.write(text + "\n")
	}

	if err := scanner.Err(); err != nil {
		log.Printf("service %s: %s scanner error: %v", ms.svc.ID, stream, err)
	}
}

// write puts text on the service's console. The first failure is logged;
// a console closed from the view side is re-resolved on a later write.
func (ms *managedService) write(text string) {
	err := ms.dispatcher.Write(ms.svc.Surface, surface.KindConsole, []byte(text))
	if err == nil {
		return
	}
	ms.mu.Lock()
	first := !ms.reported
	ms.reported = true
	ms.mu.Unlock()
	if first {
		log.Printf("service %s: write %s: %v", ms.svc.ID, ms.svc.Surface, err)
	}
}

// pumpEvents routes view events to the process until it has exited.
func (ms *managedService) pumpEvents() {
	for {
		select {
		case <-ms.dispatcher.Notify():
			ms.dispatcher.Pump()
		case <-ms.done:
			ms.dispatcher.Pump()
			return
		}
	}
}

func (ms *managedService) handleEvent(name string, ev surface.ViewEvent) {
	switch ev.Type {
	case surface.EventInputText:
		text := ev.Text
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		if err := ms.stdin.Write([]byte(text)); err != nil {
			log.Printf("service %s: input from %s dropped: %v", ms.svc.ID, name, err)
		}
	case surface.EventResized:
		ms.mu.Lock()
		ms.svc.Columns, ms.svc.Rows = ev.Width, ev.Height
		ms.mu.Unlock()
	case surface.EventDetached:
		log.Printf("service %s: %s detached: %s", ms.svc.ID, name, ev.Reason)
		ms.mu.Lock()
		exiting := ms.exiting
		ms.mu.Unlock()
		if exiting {
			ms.detachOnce.Do(func() { close(ms.detached) })
		}
	}
}

// waitForExit reaps the process once its output is drained, prints the exit
// banner and closes the console.
func (ms *managedService) waitForExit(scanners *sync.WaitGroup) {
	scanners.Wait()
	err := ms.cmd.Wait()

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	ms.stdin.Close()
	ms.cancel()

	banner := fmt.Sprintf("Process exited with code %d", exitCode)
	ms.history.Add(OutputLine{Stream: StreamExit, Data: banner, Timestamp: time.Now().UTC()})
	ms.write("\n" + stderrColor + banner + resetColor + "\n")

	ms.mu.Lock()
	ms.exiting = true
	ms.mu.Unlock()

	name := ms.svc.Surface
	if err := ms.dispatcher.Send(name, surface.KindConsole, surface.Close()); err != nil {
		ms.dispatcher.Detach(name, "process exited")
	}
	// The console is only closed once its Detached event has been pumped;
	// until then the dispatcher still holds the channel.
	if len(ms.dispatcher.Surfaces()) > 0 {
		select {
		case <-ms.detached:
		case <-time.After(ms.grace):
			log.Printf("service %s: %s did not detach within %s", ms.svc.ID, name, ms.grace)
		}
	}

	ms.mu.Lock()
	ms.svc.State = StateExited
	ms.svc.ExitCode = exitCode
	ms.mu.Unlock()

	log.Printf("service %s: exited with code %d after %s of output",
		ms.svc.ID, exitCode, humanize.Bytes(uint64(ms.history.Bytes())))
	close(ms.done)
}

func (m *Manager) lookup(id string) (*managedService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ms, nil
}

// Get returns a service by ID.
func (m *Manager) Get(id string) (Service, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return Service{}, err
	}
	return ms.snapshot(), nil
}

// List returns all services, oldest first.
func (m *Manager) List() []Service {
	m.mu.RLock()
	result := make([]Service, 0, len(m.services))
	for _, ms := range m.services {
		result = append(result, ms.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// History returns at most the n newest output lines of a service; n <= 0
// returns everything kept.
func (m *Manager) History(id string, n int) ([]OutputLine, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return ms.history.Tail(n), nil
}

// SendInput writes a line to a service's stdin.
func (m *Manager) SendInput(id, text string) error {
	ms, err := m.lookup(id)
	if err != nil {
		return err
	}
	if ms.snapshot().State == StateExited {
		return fmt.Errorf("%w: %s", ErrExited, id)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return ms.stdin.Write([]byte(text))
}

// Kill interrupts a service and force-kills it if it is still running after
// the graceful timeout.
func (m *Manager) Kill(id string) error {
	ms, err := m.lookup(id)
	if err != nil {
		return err
	}
	if ms.snapshot().State == StateExited {
		return nil
	}

	if ms.cmd.Process != nil {
		ms.cmd.Process.Signal(os.Interrupt)
		time.AfterFunc(m.grace, ms.cancel)
	}
	return nil
}

// Done is closed once the service has exited and its console is closed.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return ms.done, nil
}

// Shutdown interrupts every running service and waits for them to exit,
// force-killing whatever is left when ctx is done.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	running := make([]*managedService, 0, len(m.services))
	for _, ms := range m.services {
		if ms.snapshot().State != StateExited {
			running = append(running, ms)
		}
	}
	m.mu.RUnlock()

	for _, ms := range running {
		if ms.cmd.Process != nil {
			ms.cmd.Process.Signal(os.Interrupt)
		}
	}
	for _, ms := range running {
		select {
		case <-ms.done:
		case <-ctx.Done():
			ms.cancel()
			<-ms.done
		}
	}
}
