package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <phone>",
	Short: "Request a one-time code and establish a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		b, cleanup, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		phone := args[0]
		if err := b.Auth().RequestChallenge(ctx, phone); err != nil {
			return err
		}
		fmt.Printf("code sent to %s\n", phone)

		fmt.Print("code: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return errors.Wrap(err, "login read code")
		}

		sess, err := b.Auth().VerifyChallenge(ctx, phone, strings.TrimSpace(line))
		if err != nil {
			return err
		}
		if err := saveSession(sess); err != nil {
			return err
		}
		fmt.Printf("logged in as %s\n", sess.User.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget it locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		b, cleanup, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := b.Auth().Logout(ctx); err != nil {
			return err
		}
		if err := removeSession(); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, ok := loadSession()
		if !ok {
			return errors.New("no session, run parosctl login")
		}
		if sess.User.DisplayName != "" {
			fmt.Printf("%s (%s, %s)\n", sess.User.DisplayName, sess.User.ID, sess.User.Phone)
			return nil
		}
		fmt.Printf("%s (%s)\n", sess.User.ID, sess.User.Phone)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}
