package main

import (
	"encoding/json"
	"fmt"
	"os"

	paros "github.com/parosapp/paros-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen <channel>...",
	Short: "Print messages from one or more channels until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		b, cleanup, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		rt := b.Realtime()
		rt.OnStateChange(func(state paros.State, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "state: %s (%v)\n", state, err)
				return
			}
			fmt.Fprintf(os.Stderr, "state: %s\n", state)
		})
		for _, channel := range args {
			if err := rt.Subscribe(channel, func(msg paros.Message) {
				fmt.Printf("%s\t%s\n", msg.Channel, msg.Payload)
			}); err != nil {
				return err
			}
		}
		if err := rt.Connect(ctx); err != nil {
			return err
		}
		defer rt.Disconnect()

		<-ctx.Done()
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <channel> <json>",
	Short: "Send one message and wait for the acknowledgement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		var payload any
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return errors.Wrap(err, "send parse payload")
		}

		b, cleanup, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		rt := b.Realtime()
		if err := rt.Connect(ctx); err != nil {
			return err
		}
		defer rt.Disconnect()

		if err := rt.Send(ctx, args[0], payload); err != nil {
			return err
		}
		fmt.Println("delivered")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
}
