package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/candy-kiosk/internal/config"
	"github.com/kozaktomas/candy-kiosk/internal/transport"
)

var robotCmd = &cobra.Command{
	Use:   "robot",
	Short: "Talk to the robot control PC",
}

var robotSendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message to the robot (the test message when omitted)",
	Args:  cobra.ArbitraryArgs,
	RunE:  runRobotSend,
}

var robotStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the robot channel configuration",
	Args:  cobra.NoArgs,
	RunE:  runRobotStatus,
}

func init() {
	rootCmd.AddCommand(robotCmd)
	robotCmd.AddCommand(robotSendCmd, robotStatusCmd)
}

func newRobotChannel() (*transport.UDPChannel, func(), error) {
	cfg := config.Load()
	logger, err := cliLogger()
	if err != nil {
		return nil, nil, err
	}
	return transport.NewUDPChannel(cfg.Robot, clockwork.NewRealClock(), logger), func() { _ = logger.Sync() }, nil
}

func runRobotSend(cmd *cobra.Command, args []string) error {
	channel, done, err := newRobotChannel()
	if err != nil {
		return err
	}
	defer done()

	message := strings.Join(args, " ")
	if strings.TrimSpace(message) == "" {
		message = channel.TestMessage()
	}
	if err := channel.SendContext(context.Background(), message); err != nil {
		return fmt.Errorf("failed to send to %s: %w", channel.Addr(), err)
	}
	fmt.Printf("Sent %q to %s\n", message, channel.Addr())
	return nil
}

func runRobotStatus(cmd *cobra.Command, args []string) error {
	channel, done, err := newRobotChannel()
	if err != nil {
		return err
	}
	defer done()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(channel.Status()); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return nil
}
