// Package engine drives a UCI chess engine subprocess. Each AI game owns
// its own Session; the process is spawned on game start and killed when
// the session is torn down.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultReadyTimeout  = 4 * time.Second
	newGameRetryAttempts = 3
	newGameRetryDelay    = 150 * time.Millisecond
	stopDrainTimeout     = 2 * time.Second
)

// BestMove is the engine's reply parsed from a bestmove line.
type BestMove struct {
	From      string
	To        string
	Promotion string
	UCI       string
}

// lineEvent is one stdout line delivered by the pump goroutine.
type lineEvent struct {
	text string
	err  error
}

// Session is a running engine subprocess speaking UCI over pipes. A single
// pump goroutine owns the stdout reader and feeds lines; readers never touch
// the stream directly, so an abandoned read cannot swallow a later reply.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	lines  chan lineEvent
	preset Preset

	mu     sync.Mutex
	search sync.Mutex
}

// NewSession spawns the engine binary and runs the UCI handshake with the
// preset's options applied.
func NewSession(ctx context.Context, binaryPath string, preset Preset) (*Session, error) {
	if err := validatePreset(preset); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdoutPipe),
		lines:  make(chan lineEvent, 8),
		preset: preset,
	}
	go s.pump()

	if err := s.initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Preset reports the difficulty preset the session was started with.
func (s *Session) Preset() Preset { return s.preset }

// Search asks the engine for its best move in the given position. The
// position is sent as a FEN so the engine never drifts from the game state.
func (s *Session) Search(ctx context.Context, fen string) (BestMove, error) {
	s.search.Lock()
	defer s.search.Unlock()

	if err := s.send(buildPositionCommand(fen)); err != nil {
		return BestMove{}, fmt.Errorf("send position: %w", err)
	}
	goCmd := strings.Join(buildGoTokens(s.preset), " ")
	if err := s.send(goCmd + "\n"); err != nil {
		return BestMove{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, computeSearchTimeout(s.preset))
	defer cancel()

	for {
		line, err := s.readLine(searchCtx)
		if err != nil {
			if searchCtx.Err() != nil {
				s.abortSearch()
			}
			return BestMove{}, fmt.Errorf("read line: %w", err)
		}
		if !strings.HasPrefix(line, "bestmove") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return BestMove{}, fmt.Errorf("malformed bestmove line: %q", line)
		}
		return parseBestMove(parts[1])
	}
}

// abortSearch halts an overrunning search and consumes the engine's late
// bestmove reply, so the next request starts from a clean stream.
func (s *Session) abortSearch() {
	if err := s.send("stop\n"); err != nil {
		return
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), stopDrainTimeout)
	defer cancel()
	for {
		line, err := s.readLine(drainCtx)
		if err != nil {
			return
		}
		if strings.HasPrefix(line, "bestmove") {
			return
		}
	}
}

// NewGame resets the engine's internal state between games.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	for attempt := 1; attempt <= newGameRetryAttempts; attempt++ {
		err := s.ensureReady(ctx)
		if err == nil {
			return nil
		}
		if attempt == newGameRetryAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(newGameRetryDelay):
		}
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.cmd != nil {
		return s.cmd.Wait()
	}
	return nil
}

func (s *Session) initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	if err := s.applyOptions(); err != nil {
		return err
	}
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) ensureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) applyOptions() error {
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", s.preset.Threads),
		fmt.Sprintf("setoption name Hash value %d\n", s.preset.HashMB),
		fmt.Sprintf("setoption name Skill Level value %d\n", s.preset.SkillLevel),
		"setoption name Minimum Thinking Time value 10\n",
		"setoption name Move Overhead value 100\n",
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

// pump reads engine stdout until the pipe breaks. Lines that nobody is
// waiting for stay buffered in the channel instead of being lost.
func (s *Session) pump() {
	for {
		line, err := s.stdout.ReadString('\n')
		s.lines <- lineEvent{text: strings.TrimSpace(line), err: err}
		if err != nil {
			return
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case ev := <-s.lines:
		return ev.text, ev.err
	}
}

func buildPositionCommand(fen string) string {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

func buildGoTokens(p Preset) []string {
	args := []string{"go"}
	if p.DepthCap > 0 {
		args = append(args, "depth", strconv.Itoa(p.DepthCap))
	}
	if p.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(p.MoveTimeMillis))
	}
	return args
}

func computeSearchTimeout(p Preset) time.Duration {
	if p.MoveTimeMillis > 0 {
		return time.Duration(p.MoveTimeMillis+2000) * time.Millisecond * 3
	}
	if p.DepthCap > 0 {
		base := time.Duration(p.DepthCap) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}

// parseBestMove splits a UCI move token into origin, destination and an
// optional promotion piece. The engine emits "(none)" when it has no legal
// move.
func parseBestMove(token string) (BestMove, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" || token == "(none)" {
		return BestMove{}, fmt.Errorf("engine returned no move")
	}
	if len(token) != 4 && len(token) != 5 {
		return BestMove{}, fmt.Errorf("malformed uci move: %q", token)
	}
	bm := BestMove{From: token[:2], To: token[2:4], UCI: token}
	if len(token) == 5 {
		promo := token[4:]
		switch promo {
		case "q", "r", "b", "n":
			bm.Promotion = promo
		default:
			return BestMove{}, fmt.Errorf("malformed promotion in %q", token)
		}
	}
	return bm, nil
}
