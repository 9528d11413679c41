package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nyroxsystems-boop/partsync/internal/message"
	"github.com/nyroxsystems-boop/partsync/internal/sdk"
)

// ackTimeout bounds how long one-shot commands wait for the relay's
// broadcast confirming the change.
const ackTimeout = 3 * time.Second

func init() {
	rootCmd.AddCommand(newLockCmd())
	rootCmd.AddCommand(newUnlockCmd())
	rootCmd.AddCommand(newUndoCmd())
}

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <file>",
		Short: "Acquire a soft lock on a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			file := args[0]
			if err := oneShot(cmd.Context(), message.NewFileLock(file, message.LockEditing), lockConfirmed(file, cliName())); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("locked"), file)
			return nil
		},
	}
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <file>",
		Short: "Release a soft lock on a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			file := args[0]
			if err := oneShot(cmd.Context(), message.NewFileUnlock(file), unlockConfirmed(file, cliName())); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("unlocked"), file)
			return nil
		},
	}
}

func newUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <file> <diff-id>",
		Short: "Revert a diff from the file's history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			file := args[0]
			diffId, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid diff id %q", args[1])
			}
			if err := oneShot(cmd.Context(), message.NewDiffUndo(file, diffId), undoConfirmed(file, cliName())); err != nil {
				return err
			}
			fmt.Printf("%s diff %d on %s\n", green("reverted"), diffId, file)
			return nil
		},
	}
}

// lockConfirmed inspects lock snapshot broadcasts: success once our name
// holds the file; another holder means the relay refused the lock.
func lockConfirmed(file, name string) func(*message.Message) (bool, error) {
	return func(m *message.Message) (bool, error) {
		lc, ok := m.Data.(*message.LocksChanged)
		if !ok {
			return false, nil
		}
		for _, l := range lc.Locks {
			if l.File != file {
				continue
			}
			if l.LockedBy == name {
				return true, nil
			}
			return false, fmt.Errorf("%s is locked by %s", file, l.LockedBy)
		}
		return false, nil
	}
}

// unlockConfirmed is satisfied once the file no longer appears in a lock
// snapshot. A snapshot still naming another holder means the relay kept
// the lock and the release failed.
func unlockConfirmed(file, name string) func(*message.Message) (bool, error) {
	return func(m *message.Message) (bool, error) {
		lc, ok := m.Data.(*message.LocksChanged)
		if !ok {
			return false, nil
		}
		for _, l := range lc.Locks {
			if l.File != file {
				continue
			}
			if l.LockedBy != name {
				return false, fmt.Errorf("%s is locked by %s, not released", file, l.LockedBy)
			}
			// our own lock still listed, keep waiting
			return false, nil
		}
		return true, nil
	}
}

// undoConfirmed matches the inverse diff the relay broadcasts on our
// behalf for the requested file.
func undoConfirmed(file, name string) func(*message.Message) (bool, error) {
	return func(m *message.Message) (bool, error) {
		d, ok := m.Data.(*message.FileDiff)
		if !ok {
			return false, nil
		}
		return d.File == file && d.Author == name, nil
	}
}

// oneShot opens a short-lived relay session, sends msg and waits until a
// broadcast confirms the change took effect on the relay.
func oneShot(ctx context.Context, msg *message.Message, confirmed func(*message.Message) (bool, error)) error {
	conn := sdk.New(sdk.Config{
		ServerURL:  viper.GetString("server_url"),
		ClientName: cliName(),
		Token:      viper.GetString("token"),
	})
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	if err := conn.Send(msg); err != nil {
		return err
	}

	deadline := time.After(ackTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("no confirmation from relay for %s", msg.Type)
		case m, ok := <-conn.Messages():
			if !ok {
				return fmt.Errorf("connection closed before confirmation")
			}
			done, err := confirmed(m)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// cliName must match the daemon's identity so holder-scoped lock
// operations act on the same entries.
func cliName() string {
	name := viper.GetString("name")
	if name == "" {
		name, _ = os.Hostname()
	}
	return name
}
