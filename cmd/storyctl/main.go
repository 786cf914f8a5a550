package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-story/internal/client"
	"github.com/loqalabs/loqa-story/internal/protocol"
	"github.com/spf13/cobra"
)

var serverAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:          "storyctl",
		Short:        "Tell and browse stories on a storyd server",
		SilenceUsage: true,
	}
	defaultAddr := os.Getenv("STORY_SERVER")
	if defaultAddr == "" {
		defaultAddr = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultAddr, "storyd base URL")
	rootCmd.AddCommand(newTellCommand(), newHistoryCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newTellCommand() *cobra.Command {
	var (
		language   string
		audioOut   string
		sampleRate int
		channels   int
		answers    []string
	)
	cmd := &cobra.Command{
		Use:   "tell IDEA...",
		Short: "Start a story and stream it to the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(serverAddr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			var wavOut *client.WAVWriter
			if audioOut != "" {
				f, err := os.Create(audioOut)
				if err != nil {
					return fmt.Errorf("create audio output: %w", err)
				}
				defer f.Close()
				wavOut = client.NewWAVWriter(f, sampleRate, channels)
			}

			stdin := bufio.NewScanner(cmd.InOrStdin())
			var audioErr error
			err = c.Tell(cmd.Context(), strings.Join(args, " "), language, client.Handler{
				OnText: func(content string) { fmt.Fprint(out, content) },
				OnAudio: func(pcm []byte) {
					if wavOut != nil && audioErr == nil {
						_, audioErr = wavOut.Write(pcm)
					}
				},
				OnInteraction: func(req protocol.InteractionRequest) (string, error) {
					fmt.Fprintf(errOut, "\n\n%s\n%s\n> ", req.Message, req.PhasePrompt)
					if len(answers) > 0 {
						answer := answers[0]
						answers = answers[1:]
						fmt.Fprintln(errOut, answer)
						return answer, nil
					}
					if !stdin.Scan() {
						return "", stdin.Err()
					}
					return strings.TrimSpace(stdin.Text()), nil
				},
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			if wavOut == nil {
				return nil
			}
			if audioErr != nil {
				return audioErr
			}
			if err := wavOut.Close(); err != nil {
				return err
			}
			fmt.Fprintf(errOut, "wrote %d bytes of audio to %s\n", wavOut.Bytes(), audioOut)
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "Story language (server default when empty)")
	cmd.Flags().StringVar(&audioOut, "audio-out", "", "Write the story audio to this WAV file")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 16000, "Sample rate of the server's PCM frames")
	cmd.Flags().IntVar(&channels, "channels", 1, "Channel count of the server's PCM frames")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "Answer for the next interaction checkpoint (repeatable); stdin is read once these run out")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently completed stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client.New(serverAddr)
			if err != nil {
				return err
			}
			turns, err := c.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, turn := range turns {
				fmt.Fprintf(out, "%s  [%s]  %s\n", turn.CompletedAt.Format(time.RFC3339), turn.Language, turn.Input)
				fmt.Fprintf(out, "    %s\n\n", preview(turn.Story, 160))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of stories (server default when 0)")
	return cmd
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
