package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipzy/clipzy-server/internal/client"
	"github.com/clipzy/clipzy-server/internal/model"
)

var lanCmd = &cobra.Command{
	Use:   "lan",
	Short: "Send text and files directly to other devices through a room",
}

var lanCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print its code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := newClient().CreateRoom(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), room.ID)
		return nil
	},
}

var lanJoinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room; lines typed on stdin are sent to every connected device",
	Long: `Join a room and connect to the other devices in it.

Each line read from stdin is sent as text. A line of the form
"/file <path>" sends that file instead. Received files are written
to --out.`,
	Args: cobra.ExactArgs(1),
	RunE: runLanJoin,
}

func init() {
	hostname, _ := os.Hostname()
	lanJoinCmd.Flags().String("name", hostname, "device name shown to others")
	lanJoinCmd.Flags().String("type", string(model.DeviceTypeDesktop), "device type: desktop, mobile or tablet")
	lanJoinCmd.Flags().String("out", ".", "directory for received files")
	lanJoinCmd.Flags().StringSlice("ice-server", nil, "STUN/TURN server URL (repeatable)")
	lanJoinCmd.Flags().Bool("loopback", false, "also gather loopback candidates, for peers on this host")

	_ = viper.BindPFlag("lan.name", lanJoinCmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("lan.out", lanJoinCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("lan.ice-servers", lanJoinCmd.Flags().Lookup("ice-server"))

	lanCmd.AddCommand(lanCreateCmd, lanJoinCmd)
}

func runLanJoin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	outDir := viper.GetString("lan.out")
	deviceType, _ := cmd.Flags().GetString("type")
	loopback, _ := cmd.Flags().GetBool("loopback")

	var sess *client.Session
	nameOf := func(id string) string {
		if sess != nil {
			if d := sess.Room().FindDevice(id); d != nil {
				return d.Name
			}
		}
		return id
	}

	sess, err := newClient().JoinSession(ctx, args[0], client.SessionConfig{
		DeviceName:      viper.GetString("lan.name"),
		DeviceType:      model.DeviceType(deviceType),
		ICEServers:      viper.GetStringSlice("lan.ice-servers"),
		IncludeLoopback: loopback,
		OnText: func(from string, f *client.TextFrame) {
			fmt.Fprintf(out, "[%s] %s\n", nameOf(from), f.Content)
		},
		OnFile: func(from string, start client.FileStartFrame, data []byte) {
			path, err := saveFile(outDir, start.Name, data)
			if err != nil {
				log.Error().Err(err).Str("file", start.Name).Msg("failed to save received file")
				return
			}
			fmt.Fprintf(out, "[%s] sent %s (%d bytes) -> %s\n", nameOf(from), start.Name, len(data), path)
		},
		OnStatus: func(s client.PollStatus) {
			if s == client.PollStatusError {
				fmt.Fprintln(cmd.ErrOrStderr(), "lost contact with the server, retrying")
			}
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to leave room")
		}
	}()

	fmt.Fprintf(out, "joined room %s as %s\n", sess.RoomID(), sess.Device().Name)

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sendLine(ctx, sess, line); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		}
	}
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines <- line
		}
	}
}

func sendLine(ctx context.Context, sess *client.Session, line string) error {
	path, isFile := strings.CutPrefix(line, "/file ")
	if !isFile {
		_, err := sess.SendText(ctx, line)
		return err
	}

	f, err := os.Open(strings.TrimSpace(path))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	name := filepath.Base(f.Name())
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return sess.SendFile(ctx, name, mimeType, info.Size(), f)
}

// saveFile writes data under dir without letting the sender pick the path.
func saveFile(dir, name string, data []byte) (string, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		name = "received"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
