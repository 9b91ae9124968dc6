// Package main provides a CLI for practicing calls against the simulator,
// either as typed turns over REST or as a live websocket call.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xiaot623/salescall/internal/audio"
	"github.com/xiaot623/salescall/internal/domain"
)

// Client talks to the simulator's REST API.
type Client struct {
	baseURL   string
	http      *http.Client
	sessionID string
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) post(path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var errResp domain.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("post %s: %s: %s", path, resp.Status, errResp.Error)
	}
	return resp, nil
}

// Start opens a session and returns the prospect's opening line.
func (c *Client) Start(req domain.StartSessionRequest) (string, error) {
	resp, err := c.post("/api/voice-agent/start", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out domain.StartSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	c.sessionID = out.SessionID
	return out.InitialMessage, nil
}

// Send submits one typed turn and prints the reply as it streams.
func (c *Client) Send(message string, out io.Writer) error {
	resp, err := c.post("/api/voice-agent/message", domain.MessageRequest{SessionID: c.sessionID, Message: message})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev domain.ReplyEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return fmt.Errorf("decode reply event: %w", err)
		}
		switch ev.Type {
		case domain.ReplyEventChunk:
			fmt.Fprint(out, ev.Content)
		case domain.ReplyEventDone:
			fmt.Fprintln(out)
		}
	}
	return scanner.Err()
}

// End closes the session and returns the coaching feedback.
func (c *Client) End() (*domain.EndSessionResponse, error) {
	resp, err := c.post("/api/voice-agent/end", domain.EndSessionRequest{SessionID: c.sessionID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out domain.EndSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode end response: %w", err)
	}
	return &out, nil
}

// Personas lists stored personas.
func (c *Client) Personas() ([]domain.Persona, error) {
	resp, err := c.http.Get(c.baseURL + "/api/personas")
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list personas: %s", resp.Status)
	}

	var out struct {
		Personas []domain.Persona `json:"personas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return out.Personas, nil
}

// LiveURL returns the websocket URL of the session's live call.
func (c *Client) LiveURL(text bool) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/voice-agent/live"
	q := url.Values{"sessionId": {c.sessionID}, "speak": {"false"}}
	if text {
		q.Set("mode", domain.ModeText)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// liveConn serializes writers; gorilla allows one at a time.
type liveConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *liveConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteMessage(messageType, data)
}

func (c *liveConn) writeJSON(msg domain.LiveMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// runLive attaches a live call and relays stdin lines as typed turns.
// When audioPath is set the file's raw samples are streamed as the
// microphone.
func runLive(client *Client, audioPath string, format audio.SampleFormat, sampleRate int, lines <-chan string, interrupt <-chan os.Signal) error {
	addr, err := client.LiveURL(audioPath == "")
	if err != nil {
		return err
	}
	ws, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()
	conn := &liveConn{Conn: ws}

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			var msg domain.LiveMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}
			printLive(msg)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if audioPath != "" {
		go func() {
			if err := streamAudio(ctx, conn, audioPath, format, sampleRate); err != nil {
				log.Printf("Audio error: %v", err)
			}
		}()
	}

	hangUp := func() {
		_ = conn.writeJSON(domain.LiveMessage{Type: domain.LiveTypeEnd, Ts: time.Now().UnixMilli()})
		select {
		case <-ended:
		case <-time.After(5 * time.Second):
		}
	}

	for {
		select {
		case <-interrupt:
			hangUp()
			return nil
		case <-ended:
			return nil
		case input, ok := <-lines:
			if !ok || input == "/quit" {
				hangUp()
				return nil
			}
			msg := domain.LiveMessage{Type: domain.LiveTypeText, Ts: time.Now().UnixMilli(), Text: input}
			if input == "/turn" {
				msg = domain.LiveMessage{Type: domain.LiveTypeEndTurn, Ts: time.Now().UnixMilli()}
			}
			if err := conn.writeJSON(msg); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

// streamAudio reads the file as a paced microphone and sends float32 frames.
func streamAudio(ctx context.Context, conn *liveConn, path string, format audio.SampleFormat, sampleRate int) error {
	device := &audio.ReaderDevice{
		OpenReader: func() (io.ReadCloser, error) { return os.Open(path) },
		Format:     format,
		Realtime:   true,
	}
	constraints := audio.DefaultConstraints()
	constraints.SampleRate = sampleRate
	src, err := device.Open(ctx, constraints)
	if err != nil {
		return err
	}
	defer src.Close()

	buf := make([]float32, 1024)
	for ctx.Err() == nil {
		n, err := src.ReadSamples(buf)
		if n > 0 {
			if werr := conn.write(websocket.BinaryMessage, audio.EncodeFloat32LE(buf[:n])); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func printLive(msg domain.LiveMessage) {
	switch msg.Type {
	case domain.LiveTypeReady:
		fmt.Printf("[live] ready (%s)\n", msg.Mode)
	case domain.LiveTypeStatus:
		fmt.Printf("[live] transcription %s\n", msg.Status)
	case domain.LiveTypeTranscript:
		if msg.Final {
			fmt.Printf("%s: %s\n", msg.Speaker, msg.Text)
		}
	case domain.LiveTypeChunk:
		fmt.Print(msg.Content)
	case domain.LiveTypeDone:
		fmt.Println()
	case domain.LiveTypeDegraded:
		fmt.Printf("[live] voice unavailable (%s), continuing as text\n", msg.Phase)
	case domain.LiveTypeEnded:
		fmt.Printf("\n[live] call ended\n%s\n", msg.Summary)
	case domain.LiveTypeError:
		fmt.Printf("[live] error %s: %s\n", msg.Code, msg.Message)
	}
}

var rootCmd = &cobra.Command{
	Use:   "callcli",
	Short: "Practice sales calls against the call simulator",
}

var (
	addr      string
	prompt    string
	personaID string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&addr, "addr", "http://localhost:8080", "simulator base URL")
	flags.StringVar(&prompt, "prompt", "", "system prompt for the prospect")
	flags.StringVar(&personaID, "persona", "", "stored persona ID")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newLiveCmd())
	rootCmd.AddCommand(newPersonasCmd())
}

func main() {
	log.SetFlags(log.Ltime)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callcli: %v\n", err)
		os.Exit(1)
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Hold a typed call over the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return practice(cmd.OutOrStdout(), func(client *Client, lines <-chan string, interrupt <-chan os.Signal) error {
				runText(client, lines, interrupt)
				return nil
			})
		},
	}
}

func newLiveCmd() *cobra.Command {
	var (
		audioPath  string
		sampleRate int
		int16Input bool
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Hold a call over the live websocket, optionally streaming a sample file as the microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			format := audio.FormatFloat32LE
			if int16Input {
				format = audio.FormatInt16LE
			}
			return practice(cmd.OutOrStdout(), func(client *Client, lines <-chan string, interrupt <-chan os.Signal) error {
				return runLive(client, audioPath, format, sampleRate, lines, interrupt)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&audioPath, "audio", "", "raw mono sample file to stream as the microphone")
	flags.IntVar(&sampleRate, "rate", 16000, "sample rate of --audio")
	flags.BoolVar(&int16Input, "int16", false, "--audio holds 16-bit little-endian samples instead of float32")
	return cmd
}

func newPersonasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List stored personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			personas, err := NewClient(addr).Personas()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range personas {
				fmt.Fprintf(out, "%s\t%s\n", p.PersonaID, p.Name)
			}
			return nil
		},
	}
}

// practice starts a session, runs the conversation and prints the coaching
// feedback once it ends.
func practice(out io.Writer, converse func(*Client, <-chan string, <-chan os.Signal) error) error {
	if prompt == "" && personaID == "" {
		prompt = "You are a busy VP of Sales at a mid-sized software company. You are polite but skeptical of cold calls."
	}

	client := NewClient(addr)
	opening, err := client.Start(domain.StartSessionRequest{SystemPrompt: prompt, PersonaID: personaID})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	fmt.Fprintf(out, "Session established: %s\n", client.sessionID)
	fmt.Fprintf(out, "Prospect: %s\n", opening)
	fmt.Fprintln(out, "\nType a message and press Enter to send.")
	fmt.Fprintln(out, "Commands: /quit to hang up, /turn to end a spoken turn (live)")
	fmt.Fprintln(out)

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if input := strings.TrimSpace(scanner.Text()); input != "" {
				lines <- input
			}
		}
	}()

	if err := converse(client, lines, interrupt); err != nil {
		log.Printf("Call failed: %v", err)
	}

	result, err := client.End()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	rule := strings.Repeat("-", terminalWidth())
	fmt.Fprintf(out, "\n%s\nFeedback\n%s\n%s\n", rule, rule, result.Feedback)
	fmt.Fprintf(out, "\nMessages: %d, duration: %ds\n", result.ConversationSummary.MessageCount, result.ConversationSummary.Duration)
	if result.CallSummary != "" {
		fmt.Fprintf(out, "\n%s\n", result.CallSummary)
	}
	return nil
}

func interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return min(w, 80)
	}
	return 40
}

func runText(client *Client, lines <-chan string, interrupt <-chan os.Signal) {
	for {
		if interactive() {
			fmt.Print("> ")
		}
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case input, ok := <-lines:
			if !ok || input == "/quit" {
				return
			}
			fmt.Print("Prospect: ")
			if err := client.Send(input, os.Stdout); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
