package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"mobile-chat/backend/conversation/models"
	"mobile-chat/backend/conversation/service"
	"mobile-chat/backend/pkg/config"
	"mobile-chat/backend/pkg/di"
	"mobile-chat/backend/pkg/logger"
	rosterservice "mobile-chat/backend/roster/service"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	chatConversation string
	chatMe           string
	chatName         string
	chatFriend       string
	chatFriendName   string
	chatUseDB        bool
)

func init() {
	rootCmd.Flags().StringVar(&chatConversation, "conversation", "", "conversation id")
	rootCmd.Flags().StringVar(&chatMe, "me", "", "local participant id")
	rootCmd.Flags().StringVar(&chatName, "name", "Me", "local display name")
	rootCmd.Flags().StringVar(&chatFriend, "friend", "", "participant id of the friend")
	rootCmd.Flags().StringVar(&chatFriendName, "friend-name", "", "friend display name when no roster database is used")
	rootCmd.Flags().BoolVar(&chatUseDB, "db", false, "resolve names from the roster database")
	_ = rootCmd.MarkFlagRequired("conversation")
	_ = rootCmd.MarkFlagRequired("me")
	_ = rootCmd.MarkFlagRequired("friend")
}

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a friend in one conversation",
	Long: `Lines typed are sent to the friend.
"/search <pattern>" filters the timeline once typing pauses, "/search" clears it,
"/quit" leaves the conversation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	opts := di.Options{Logger: log}
	if chatUseDB {
		db, err := config.NewDB(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("open roster database: %w", err)
		}
		opts.DB = db
	} else {
		opts.Roster = rosterservice.StaticRoster{chatFriend: friendName()}
	}

	container, err := di.New(cfg, opts)
	if err != nil {
		return err
	}
	defer container.Close()
	defer closeDB(opts.DB)

	conv, err := container.ConversationService.Enter(ctx, service.EnterRequest{
		ConversationID: chatConversation,
		LocalID:        chatMe,
		LocalName:      chatName,
		FriendID:       chatFriend,
	})
	if err != nil {
		return err
	}
	defer conv.Leave(context.Background())

	go redrawLoop(ctx, conv, out)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, conv, line)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

type chatConversationAPI interface {
	Send(ctx context.Context, text string) (models.MessageRecord, error)
	Search(raw string)
}

func handleLine(ctx context.Context, conv chatConversationAPI, line string) (bool, error) {
	switch {
	case line == "/quit":
		return true, nil
	case line == "/search":
		conv.Search("")
		return false, nil
	case strings.HasPrefix(line, "/search "):
		conv.Search(strings.TrimPrefix(line, "/search "))
		return false, nil
	case strings.TrimSpace(line) == "":
		return false, nil
	default:
		_, err := conv.Send(ctx, line)
		return false, err
	}
}

func redrawLoop(ctx context.Context, conv *service.Conversation, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conv.Updates():
			msgs, err := conv.Timeline(ctx)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			_, query := conv.Query()
			render(out, msgs, query)
		}
	}
}

// render prints the timeline oldest first, so the newest message ends up at the bottom
func render(out io.Writer, msgs []models.DisplayMessage, query string) {
	header := "---"
	if query != "" {
		header = fmt.Sprintf("--- search: %s", query)
	}
	fmt.Fprintln(out, header)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Text)
	}
}

func friendName() string {
	if chatFriendName != "" {
		return chatFriendName
	}
	return chatFriend
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
