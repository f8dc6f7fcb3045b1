package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/iudanet/collabsync/internal/client/api"
	"github.com/iudanet/collabsync/internal/client/conflict"
	"github.com/iudanet/collabsync/internal/client/persist"
	"github.com/iudanet/collabsync/internal/client/presence"
	"github.com/iudanet/collabsync/internal/client/session"
	"github.com/iudanet/collabsync/internal/client/steps"
	"github.com/iudanet/collabsync/internal/client/storage/boltdb"
	"github.com/iudanet/collabsync/internal/client/transport"
	"github.com/iudanet/collabsync/internal/config"
	"github.com/iudanet/collabsync/internal/models"
	wire "github.com/iudanet/collabsync/pkg/api"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	wsURL := flag.String("ws", "ws://localhost:8080", "Websocket server URL")
	contentID := flag.String("content", "", "Content ID to edit")
	token := flag.String("token", os.Getenv("COLLABSYNC_TOKEN"), "Access token")
	displayName := flag.String("name", "anonymous", "Display name")
	color := flag.String("color", "#4a90d9", "Cursor color")
	dbPath := flag.String("db", "collabsync-client.db", "Path to local step journal")
	mode := flag.String("mode", "merge", "Conflict resolution mode: overwrite, manual, merge")
	offline := flag.Bool("offline", false, "Disable realtime channel, autosave only")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *contentID == "" {
		fmt.Fprintln(os.Stderr, "Usage: collabsync-client -content <id> [-token <token>]")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg := &config.Config{
		Enabled:            !*offline,
		WebsocketURL:       *wsURL,
		UploadURL:          *serverURL,
		ConflictResolution: models.ResolutionMode(*mode),
	}
	cfg.Normalize()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Локальный журнал шагов переживает перезапуск клиента
	journal, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open step journal: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
	}()

	apiClient := api.NewClient(cfg.UploadURL)
	apiClient.SetAuthToken(*token)

	local := session.NewParticipant(*displayName, *color)

	channel := transport.NewChannel(transport.Options{
		Enabled:           cfg.Enabled,
		URL:               fmt.Sprintf("%s/api/v1/content/%s/ws", cfg.WebsocketURL, *contentID),
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		AuthToken:         *token,
	}, local, logger)

	sender := func(ctx context.Context, step *models.Step) error {
		ev, err := wire.NewEvent(wire.EventStep, local.ID, time.Now().UnixMilli(), wire.StepData{
			StepID:        step.ID,
			OriginVersion: step.OriginVersion,
			Payload:       step.Payload,
		})
		if err != nil {
			return err
		}
		return channel.Send(ev)
	}

	exchange := steps.NewExchange(*contentID, local.ID, cfg.MaxVersionSkew, sender, journal, logger)
	coordinator := persist.NewCoordinator(apiClient, conflict.NewResolver(),
		cfg.ConflictResolution, cfg.RetryAttempts, cfg.RetryDelay, logger)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	status := func(format string, args ...any) {
		if interactive {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}

	sess := session.New(cfg, *contentID, local, session.Deps{
		Channel:     channel,
		Registry:    presence.NewRegistry(cfg.OnlineWindow),
		Exchange:    exchange,
		Coordinator: coordinator,
	}, session.Callbacks{
		OnStatus: func(s session.Status, err error) {
			if err != nil {
				status("[%s] %v", s, err)
				return
			}
			status("[%s]", s)
		},
		OnRemoteStep: func(step *models.Step, version uint64) {
			status("remote step from %s, version %d", step.OriginatorID, version)
		},
		OnPresence: func(participants []*models.Participant) {
			names := make([]string, 0, len(participants))
			for _, p := range participants {
				names = append(names, p.DisplayName)
			}
			status("online: %s", strings.Join(names, ", "))
		},
		OnConflict: func(info *models.ConflictInfo) {
			status("conflict with version %d by %s, resolve manually",
				info.Remote.Version, info.Remote.AuthorID)
		},
	}, logger)

	if err := sess.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Error("failed to close session", "error", err)
		}
	}()

	if interactive {
		fmt.Fprintf(os.Stderr, "Editing %s as %s. Type text to append, /save to flush, /quit to exit.\n",
			*contentID, *displayName)
	}

	runEditor(ctx, sess, *contentID, status)
}

// runEditor читает строки из stdin и превращает их в правки документа.
func runEditor(ctx context.Context, sess *session.Session, contentID string, status func(string, ...any)) {
	var doc strings.Builder

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				// Конец ввода: принудительное сохранение перед выходом
				sess.SaveNow()
				return
			}

			switch {
			case line == "/quit":
				sess.SaveNow()
				return
			case line == "/save":
				sess.SaveNow()
				continue
			case line == "/who":
				for _, p := range sess.Participants(true) {
					status("%s (%s)", p.DisplayName, p.ID)
				}
				continue
			}

			if doc.Len() > 0 {
				doc.WriteString("\n")
			}
			doc.WriteString(line)

			payload, err := json.Marshal(map[string]string{"insert": line})
			if err != nil {
				status("failed to encode edit: %v", err)
				continue
			}

			snapshot := models.Content{
				"content": doc.String(),
				"title":   contentID,
			}
			if err := sess.Edit(ctx, payload, snapshot); err != nil {
				status("edit rejected: %v", err)
			}
		}
	}
}

func printVersion() {
	fmt.Printf("CollabSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
