package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/samelhousseini/gpt-realtime-agents/internal/audio"
	"github.com/samelhousseini/gpt-realtime-agents/internal/bootstrap"
	"github.com/samelhousseini/gpt-realtime-agents/internal/config"
	"github.com/samelhousseini/gpt-realtime-agents/internal/observability"
	"github.com/samelhousseini/gpt-realtime-agents/internal/session"
	"github.com/samelhousseini/gpt-realtime-agents/internal/tools"
	"github.com/samelhousseini/gpt-realtime-agents/internal/transport"
	"github.com/samelhousseini/gpt-realtime-agents/internal/vad"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	transportFlag := flag.String("transport", "", "wire variant: peermedia, textsocket or binsocket (overrides REALTIME_TRANSPORT)")
	backendFlag := flag.String("backend", "", "collaborator backend base URL (overrides BACKEND_URL)")
	dumpFlag := flag.String("dump", "", "write captured microphone audio to this WAV file on exit")
	flag.Parse()

	if *transportFlag != "" {
		cfg.TransportKind = *transportFlag
	}
	if *backendFlag != "" {
		cfg.BackendURL = *backendFlag
	}
	if *dumpFlag != "" {
		cfg.CaptureDumpPath = *dumpFlag
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	engine, err := audio.NewEngine()
	if err != nil {
		log.Fatalf("audio engine init failed: %v", err)
	}
	defer engine.Close()

	frameSize := audio.SampleRate * cfg.FrameMS / 1000
	input := engine.NewInputPort(frameSize)
	output := engine.NewOutputPort(frameSize)

	client := bootstrap.NewClient(cfg.BackendURL, nil)
	toolCache := bootstrap.NewToolCache(client, cfg.ToolCacheTTL)
	executor := tools.NewHTTPExecutor(cfg.BackendURL, nil)

	controller := session.NewController(
		session.Config{
			TransportKind:   transport.Kind(cfg.TransportKind),
			TransportURL:    cfg.RealtimeWSURL,
			Model:           cfg.Model,
			Voice:           cfg.Voice,
			FrameSize:       frameSize,
			CaptureDumpPath: cfg.CaptureDumpPath,
			VAD: vad.Config{
				Threshold:       float64(cfg.VADThreshold),
				MinSpeakingTime: cfg.MinSpeakingTime,
				MinSilenceTime:  cfg.MinSilenceTime,
			},
		},
		client,
		toolCache,
		executor,
		input,
		output,
		metrics,
		session.Callbacks{
			OnStatus: func(s session.ControllerStatus) {
				log.Printf("session %s", s)
			},
			OnAssistantTranscript: func(text string) {
				fmt.Printf("assistant: %s\n", text)
			},
			OnUserTranscript: func(text string) {
				fmt.Printf("you: %s\n", text)
			},
			OnVoiceActivity: newActivityPrinter(),
			OnToolResult: func(r tools.Result) {
				if r.Err != "" {
					log.Printf("tool %s failed: %s", r.Name, r.Err)
					return
				}
				log.Printf("tool %s completed", r.Name)
			},
			OnError: func(err error) {
				log.Printf("session error: %v", err)
			},
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("ending session")
		controller.End()
	}()

	go readStdin(controller)

	log.Printf("connecting over %s (speak, or type a message and press enter)", cfg.TransportKind)
	if err := controller.Run(ctx); err != nil {
		log.Fatalf("session failed: %v", err)
	}
}

// readStdin forwards typed lines into the live conversation. "/mute" and
// "/unmute" gate the microphone; "/quit" ends the session.
func readStdin(controller *session.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			controller.End()
			return
		case line == "/mute":
			controller.SetMuted(true)
			log.Printf("microphone muted")
		case line == "/unmute":
			controller.SetMuted(false)
			log.Printf("microphone live")
		default:
			if err := controller.SendText(line); err != nil {
				if errors.Is(err, transport.ErrNotOpen) {
					log.Printf("not connected yet")
					continue
				}
				log.Printf("send text: %v", err)
			}
		}
	}
}

// newActivityPrinter logs only speaking-state flips, not every frame.
func newActivityPrinter() func(vad.State) {
	var speaking bool
	return func(s vad.State) {
		if s.Speaking == speaking {
			return
		}
		speaking = s.Speaking
		if speaking {
			log.Printf("listening (level %.0f)", s.Level)
		} else {
			log.Printf("silence")
		}
	}
}
