// wardctl is the terminal client for the wardflow backend: log in, list
// conversations and chat with the assistant from a shell.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"wardflow/client"
)

var rootCmd = &cobra.Command{
	Use:   "wardctl",
	Short: "Terminal client for the wardflow nurse assistant",
	Long: `wardctl talks to a running wardflow backend. Log in once with
"wardctl login"; the token is stored in the config file and reused by
the chat and list commands.`,
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wardctl.yaml"
	}
	return filepath.Join(home, ".wardctl.yaml")
}

func initConfig() {
	viper.SetConfigFile(configPath())
	viper.SetConfigType("yaml")
	viper.SetDefault("server", "http://localhost:5000")
	viper.SetEnvPrefix("WARDCTL")
	viper.AutomaticEnv()
	// a missing config file just means nobody logged in yet
	_ = viper.ReadInConfig()
}

func requireToken() (string, error) {
	token := viper.GetString("token")
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("not logged in, run: wardctl login")
	}
	return token, nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store the access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("email: ")
		email, err := reader.ReadString('\n')
		if err != nil {
			return err
		}

		fmt.Print("password: ")
		pwBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return err
		}

		token, username, role, err := client.Login(cmd.Context(), viper.GetString("server"), strings.TrimSpace(email), string(pwBytes))
		if err != nil {
			return err
		}

		viper.Set("token", token)
		if err := viper.WriteConfigAs(configPath()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("logged in as %s (%s)\n", username, role)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := requireToken()
		if err != nil {
			return err
		}
		ch := client.New(viper.GetString("server"), token)
		convs, err := ch.ListConversations(cmd.Context())
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("no conversations yet")
			return nil
		}
		for _, c := range convs {
			fmt.Printf("%4d  %-40s  %d messages\n", c.ID, c.Title, c.MessagesCount)
		}
		return nil
	},
}

var chatConversationID uint

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long:  `Reads messages from stdin and prints the assistant's reply as it streams. Use --conversation to continue an existing conversation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := requireToken()
		if err != nil {
			return err
		}
		ch := client.New(viper.GetString("server"), token)
		ch.ConversationID = chatConversationID
		ch.OnConversationsChanged = func() {
			fmt.Printf("(started conversation %d)\n", ch.ConversationID)
		}
		ch.OnFragment = func(text string) { fmt.Print(text) }

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("type a message, or /quit to exit")
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				break
			}

			if err := ch.Send(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			fmt.Println()
		}
		return scanner.Err()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("server", "", "backend base URL (default http://localhost:5000)")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))

	chatCmd.Flags().UintVar(&chatConversationID, "conversation", 0, "conversation id to continue")

	rootCmd.AddCommand(loginCmd, listCmd, chatCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
