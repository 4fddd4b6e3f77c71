package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	diag "github.com/coreman2200/funtimes-ws2812/internal/diagnostics"
	"github.com/coreman2200/funtimes-ws2812/internal/patterns"
	"github.com/coreman2200/funtimes-ws2812/internal/transmit"
	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

type Options struct {
	// Lengths of each line, in order. Frames sent by the pattern loop use them.
	Lengths    []int
	FPS        int
	Brightness float64
	Driver     string
	Log        *zerolog.Logger
}

// State serves the control, diagnostics and frame streams for one output.
type State struct {
	mu         sync.RWMutex
	out        Output
	status     Status
	lengths    []int
	fps        int
	brightness float64
	driver     string

	frame       []ws2812.Chain
	frameID     uint64
	startTime   time.Time
	clients     map[*client]bool
	diagClients map[*client]bool
	testRunner  *patterns.Runner

	log zerolog.Logger
}

func NewState(out Output, opts Options) *State {
	log := zerolog.Nop()
	if opts.Log != nil {
		log = *opts.Log
	}
	s := &State{
		out:         out,
		lengths:     append([]int{}, opts.Lengths...),
		fps:         opts.FPS,
		brightness:  opts.Brightness,
		driver:      opts.Driver,
		frame:       make([]ws2812.Chain, len(opts.Lengths)),
		startTime:   time.Now(),
		clients:     map[*client]bool{},
		diagClients: map[*client]bool{},
		log:         log.With().Str("component", "server").Logger(),
	}
	for i, n := range opts.Lengths {
		s.frame[i] = make(ws2812.Chain, n)
	}
	if st, ok := out.(Status); ok {
		s.status = st
	}
	return s
}

// Routes returns the HTTP handlers.
func (s *State) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleFramesWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/control", s.HandleControlWS)
	mux.HandleFunc("/health", s.HandleHealth)
	return mux
}

// Submit transmits a frame and mirrors it to frame clients.
func (s *State) Submit(chains []ws2812.Chain) error {
	if err := s.out.Transmit(chains...); err != nil {
		s.pushDiag(diag.FromError(err))
		return err
	}
	s.mu.Lock()
	s.frameID++
	id := s.frameID
	s.mu.Unlock()
	s.broadcastFrame(id, chains)
	return nil
}

// RunTest starts a calibration pattern; the pattern loop sends its frames.
func (s *State) RunTest(name string) error {
	k, err := patterns.ParseKind(name)
	if err != nil {
		s.pushDiag(diag.Diagnostic{
			Severity: diag.Warn, Code: "TEST.UNKNOWN", Summary: "Unknown test name",
			Evidence: map[string]any{"name": name},
		})
		return err
	}
	s.mu.Lock()
	s.testRunner = patterns.NewRunner(patterns.Plan{Kind: k, Color: ws2812.Pixel{R: 255, G: 255, B: 255}, Brightness: s.brightness})
	s.mu.Unlock()
	s.pushDiag(diag.Diagnostic{Severity: diag.Info, Code: "TEST.RUNNING", Summary: "Running test", Detail: name})
	return nil
}

// StopTest ends the running pattern, if any.
func (s *State) StopTest() {
	s.mu.Lock()
	s.testRunner = nil
	s.mu.Unlock()
}

// Run steps the active pattern at the configured rate and turns
// asynchronous transmit errors into diagnostics, until ctx ends.
func (s *State) Run(ctx context.Context) {
	s.mu.RLock()
	fps := s.fps
	s.mu.RUnlock()
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var errs <-chan error
	if s.status != nil {
		errs = s.status.Errors()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			s.log.Warn().Err(err).Msg("transmit error")
			s.pushDiag(diag.FromError(err))
		case <-ticker.C:
			s.stepPattern()
		}
	}
}

func (s *State) stepPattern() {
	s.mu.Lock()
	if s.testRunner == nil {
		s.mu.Unlock()
		return
	}
	if !s.testRunner.Step(s.frame) {
		s.testRunner = nil
		s.mu.Unlock()
		s.pushDiag(diag.Diagnostic{Severity: diag.Info, Code: "TEST.DONE", Summary: "Test complete"})
		return
	}
	frame := make([]ws2812.Chain, len(s.frame))
	for i, c := range s.frame {
		frame[i] = append(ws2812.Chain{}, c...)
	}
	s.mu.Unlock()
	_ = s.Submit(frame)
}

func (s *State) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	s.sendTopology(c)

	go s.drain(c, s.clients)
}

func (s *State) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.diagClients[c] = true
	s.mu.Unlock()
	b, _ := json.Marshal(diag.Diagnostic{Severity: diag.Info, Code: "DIAG.CONNECTED", Summary: "Diagnostics attached"})
	_ = c.write(b)

	go s.drain(c, s.diagClients)
}

// drain reads until the peer goes away, then forgets the client.
func (s *State) drain(c *client, set map[*client]bool) {
	defer func() {
		s.mu.Lock()
		delete(set, c)
		s.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

type controlMsg struct {
	Lines      [][]int  `json:"lines,omitempty"` // flat r,g,b per line
	RunTest    string   `json:"runTest,omitempty"`
	StopTest   bool     `json:"stopTest,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
}

type controlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *State) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		reply := controlReply{OK: true}
		if err := json.Unmarshal(data, &msg); err != nil {
			reply = controlReply{Error: err.Error()}
		} else if err := s.applyControl(msg); err != nil {
			reply = controlReply{Error: err.Error()}
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *State) applyControl(msg controlMsg) error {
	if msg.Brightness != nil {
		s.mu.Lock()
		s.brightness = clamp(*msg.Brightness, 0, 1)
		s.mu.Unlock()
	}
	if msg.StopTest {
		s.StopTest()
	}
	if msg.RunTest != "" {
		if err := s.RunTest(msg.RunTest); err != nil {
			return err
		}
	}
	if msg.Lines != nil {
		chains := make([]ws2812.Chain, len(msg.Lines))
		for i, l := range msg.Lines {
			rgb := make([]byte, len(l))
			for j, v := range l {
				if v < 0 || v > 255 {
					return fmt.Errorf("line %d: value %d out of range", i, v)
				}
				rgb[j] = byte(v)
			}
			c, err := ws2812.ChainFromRGB(rgb)
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			chains[i] = c
		}
		return s.Submit(chains)
	}
	return nil
}

type health struct {
	FrameID    uint64          `json:"frame_id"`
	UptimeS    float64         `json:"uptime_s"`
	Lines      []int           `json:"lines"`
	FPS        int             `json:"fps"`
	Brightness float64         `json:"brightness"`
	Driver     string          `json:"driver"`
	State      string          `json:"state,omitempty"`
	Pending    bool            `json:"pending"`
	Stats      *transmit.Stats `json:"stats,omitempty"`
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := health{
		FrameID:    s.frameID,
		UptimeS:    time.Since(s.startTime).Seconds(),
		Lines:      s.lengths,
		FPS:        s.fps,
		Brightness: s.brightness,
		Driver:     s.driver,
	}
	s.mu.RUnlock()
	if s.status != nil {
		st := s.status.Stats()
		resp.State = s.status.State().String()
		resp.Pending = s.status.Pending()
		resp.Stats = &st
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *State) sendTopology(c *client) {
	s.mu.RLock()
	top := map[string]any{
		"lines":  s.lengths,
		"driver": s.driver,
		"fps":    s.fps,
	}
	s.mu.RUnlock()
	b, _ := json.Marshal(top)
	_ = c.write(b)
}

type frameMsg struct {
	T       int64   `json:"t"`
	FrameID uint64  `json:"frame_id"`
	Lines   [][]int `json:"lines"`
}

func (s *State) broadcastFrame(id uint64, chains []ws2812.Chain) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	f := frameMsg{T: time.Now().UnixNano(), FrameID: id, Lines: make([][]int, len(chains))}
	for i, c := range chains {
		l := make([]int, 0, len(c)*3)
		for _, p := range c {
			l = append(l, int(p.R), int(p.G), int(p.B))
		}
		f.Lines[i] = l
	}
	b, _ := json.Marshal(f)
	for _, c := range targets {
		if err := c.write(b); err != nil {
			s.log.Debug().Err(err).Msg("write frame")
		}
	}
}

func (s *State) pushDiag(d diag.Diagnostic) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.diagClients))
	for c := range s.diagClients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	b, _ := json.Marshal(d)
	for _, c := range targets {
		if err := c.write(b); err != nil {
			s.log.Debug().Err(err).Msg("write diag")
		}
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// WithCORS allows the browser preview to connect from any origin.
func WithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
